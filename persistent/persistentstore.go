package persistent

import (
	"errors"

	"github.com/boltdb/bolt"
	"github.com/sushantsondhi/dcoord/common"
)

var stateBucketName = []byte("state")

// PStore keeps a node's non-volatile variables (logical clock and the
// coordinator it last believed in) in a single Bolt bucket.
type PStore struct {
	db *bolt.DB
}

var _ common.PersistentStore = PStore{}

func NewPStore(dataBaseFilePath string) (PStore, error) {
	db, err := open(dataBaseFilePath)
	if err != nil {
		return PStore{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return PStore{}, err
	}

	return PStore{
		db: db,
	}, nil
}

func (store PStore) Set(key, value []byte) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucketName).Put(key, value)
	})
}

func (store PStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := store.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucketName).Get(key)
		if v == nil {
			return errors.New("[Get]: key doesn't exist")
		}
		// v is only valid for the life of the transaction
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

// GetDefault returns the stored value of key, storing and returning
// defaultVal if there is none yet.
func (store PStore) GetDefault(key []byte, defaultVal []byte) ([]byte, error) {
	var val []byte
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucketName)
		if v := bucket.Get(key); v != nil {
			val = append([]byte(nil), v...)
			return nil
		}
		val = defaultVal
		return bucket.Put(key, defaultVal)
	})
	return val, err
}

func (store PStore) Close() error {
	return store.db.Close()
}
