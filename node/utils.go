package node

import (
	"log"
	"strconv"

	"github.com/sushantsondhi/dcoord/common"
)

func getClock(persistentStore common.PersistentStore) int64 {
	r, err := persistentStore.GetDefault([]byte(common.Clock), []byte("0"))
	if err != nil {
		log.Printf("Error getting clock from persistentStore: %+v\n", err)
		return 0
	}
	clock, err := strconv.ParseInt(string(r), 10, 64)
	if err != nil {
		log.Printf("Error parsing clock: %+v\n", err)
		return 0
	}
	return clock
}

func setClock(persistentStore common.PersistentStore, clock int64) error {
	return persistentStore.Set([]byte(common.Clock), []byte(strconv.FormatInt(clock, 10)))
}

func getCoordinator(persistentStore common.PersistentStore, defaultID common.ProcessID) common.ProcessID {
	r, err := persistentStore.GetDefault([]byte(common.Coordinator), []byte(strconv.Itoa(int(defaultID))))
	if err != nil {
		log.Printf("Error getting coordinator from persistentStore: %+v\n", err)
		return defaultID
	}
	id, err := strconv.Atoi(string(r))
	if err != nil {
		log.Printf("Error parsing coordinator: %+v\n", err)
		return defaultID
	}
	return common.ProcessID(id)
}

func setCoordinator(persistentStore common.PersistentStore, id common.ProcessID) error {
	return persistentStore.Set([]byte(common.Coordinator), []byte(strconv.Itoa(int(id))))
}
