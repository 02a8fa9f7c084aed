package persistent

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"
	"github.com/sushantsondhi/dcoord/common"
)

// open opens (creating if needed) the Bolt file at path. A timeout is set
// so that a second process pointed at the same file fails instead of
// blocking forever on the file lock.
func open(path string) (*bolt.DB, error) {
	return bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
}

func EncodeToBytes(p interface{}) ([]byte, error) {
	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeToMessage(s []byte) (common.Message, error) {
	msg := common.Message{}
	err := gob.NewDecoder(bytes.NewReader(s)).Decode(&msg)
	return msg, err
}

func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}
