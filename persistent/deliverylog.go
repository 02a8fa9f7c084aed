package persistent

import (
	"errors"

	"github.com/boltdb/bolt"
	"github.com/sushantsondhi/dcoord/common"
)

var deliveredBucketName = []byte("delivered")

// DbDeliveryLog is a delivery log implementation backed by a Bolt DB.
// Messages are keyed by their delivery index (big-endian), so a cursor
// walk returns them in delivery order.
type DbDeliveryLog struct {
	db *bolt.DB
}

var _ common.DeliveryLog = DbDeliveryLog{}

func CreateDbDeliveryLog(dataBaseFilePath string) (DbDeliveryLog, error) {
	db, err := open(dataBaseFilePath)
	if err != nil {
		return DbDeliveryLog{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(deliveredBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return DbDeliveryLog{}, err
	}

	return DbDeliveryLog{
		db: db,
	}, nil
}

// Append stores msg at the next free index and returns that index.
func (d DbDeliveryLog) Append(msg common.Message) (int64, error) {
	var index int64
	err := d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(deliveredBucketName)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		index = int64(seq) - 1

		val, err := EncodeToBytes(msg)
		if err != nil {
			return err
		}
		return bucket.Put(int64ToBytes(index), val)
	})
	return index, err
}

func (d DbDeliveryLog) Get(index int64) (*common.Message, error) {
	var msg common.Message

	err := d.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(deliveredBucketName).Get(int64ToBytes(index))
		if val == nil {
			return errors.New("[Get]: index doesn't exist")
		}
		var err error
		msg, err = DecodeToMessage(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (d DbDeliveryLog) Length() (int64, error) {
	var length int64
	err := d.db.View(func(tx *bolt.Tx) error {
		length = int64(tx.Bucket(deliveredBucketName).Sequence())
		return nil
	})
	return length, err
}

func (d DbDeliveryLog) Close() error {
	return d.db.Close()
}
