package wifi

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	ds "github.com/ipfs/go-datastore"
)

var sequenceKey = ds.NewKey("/wifi/sequence")

func recordKey(slot int, field string) ds.Key {
	return ds.NewKey(fmt.Sprintf("/wifi/records/%d/%s", slot, field))
}

func validateCredentials(ssid, secret string) error {
	if ssid == "" || len(ssid) > SSIDMaxLen {
		return ErrInvalidSSID
	}
	if len(secret) > SecretMaxLen {
		return ErrInvalidSecret
	}
	return nil
}

// RecordStore holds up to MaxRecords remembered networks, persisted
// per slot in the repo datastore. Credentials and the ever-success
// flag survive restarts, the user-disconnected flag does not.
type RecordStore struct {
	mtx      sync.Mutex
	db       ds.Datastore
	records  [MaxRecords]*Record
	sequence uint32
	onChange func()
}

// NewRecordStore loads whatever records the datastore holds. A slot
// missing any of its keys, or with a status field that does not
// parse, is treated as empty. onChange, if not nil, runs after every
// persisted mutation.
func NewRecordStore(db ds.Datastore, onChange func()) (*RecordStore, error) {
	rs := &RecordStore{
		db:       db,
		onChange: onChange,
	}
	if b, err := db.Get(sequenceKey); err == nil {
		if v, err := strconv.ParseUint(string(b), 10, 32); err == nil {
			rs.sequence = uint32(v)
		}
	}
	loaded := 0
	for i := 0; i < MaxRecords; i++ {
		b, err := db.Get(recordKey(i, "ssid"))
		if err != nil {
			continue
		}
		rec := &Record{SSID: string(b)}
		b, err = db.Get(recordKey(i, "secret"))
		if err != nil {
			log.Warnf("Missing secret for record %d, treating the slot as empty", i)
			continue
		}
		rec.Secret = string(b)
		b, err = db.Get(recordKey(i, "status"))
		if err != nil {
			log.Warnf("Missing status for record %d, treating the slot as empty", i)
			continue
		}
		var ever int
		var seq uint32
		if n, err := fmt.Sscanf(string(b), "%d;%d", &ever, &seq); err != nil || n != 2 {
			log.Warnf("Invalid status format for record %d", i)
			continue
		}
		rec.EverSuccess = ever != 0
		rec.Sequence = seq
		rs.records[i] = rec
		loaded++
	}
	log.Infof("Loaded %d WiFi records", loaded)
	return rs, nil
}

// Add remembers a network that has not proven itself yet. Re-adding
// an existing SSID updates its secret and clears the ever-success
// flag, the network has to prove itself again.
func (rs *RecordStore) Add(ssid, secret string) error {
	if err := validateCredentials(ssid, secret); err != nil {
		return err
	}
	return rs.addOrUpdate(ssid, secret, false)
}

func (rs *RecordStore) addOrUpdate(ssid, secret string, everSuccess bool) error {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			rec.Secret = secret
			rs.sequence++
			rec.Sequence = rs.sequence
			rec.EverSuccess = everSuccess
			log.Infof("Updated WiFi record: %s", ssid)
			return rs.persist()
		}
	}
	free := -1
	for i, rec := range rs.records {
		if rec == nil {
			free = i
			break
		}
	}
	if free < 0 {
		minSeq := uint32(math.MaxUint32)
		for i, rec := range rs.records {
			if rec != nil && rec.Sequence < minSeq {
				minSeq = rec.Sequence
				free = i
			}
		}
		log.Infof("Removed old WiFi record: %s", rs.records[free].SSID)
	}
	rs.sequence++
	rs.records[free] = &Record{
		SSID:        ssid,
		Secret:      secret,
		Sequence:    rs.sequence,
		EverSuccess: everSuccess,
	}
	log.Infof("Added new WiFi record: %s", ssid)
	return rs.persist()
}

func (rs *RecordStore) Delete(ssid string) error {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for i, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			rs.records[i] = nil
			log.Infof("Deleted WiFi record: %s", ssid)
			return rs.persist()
		}
	}
	log.Warnf("Failed to delete WiFi record: %s", ssid)
	return ErrRecordNotFound
}

// List returns copies in slot order.
func (rs *RecordStore) List() []Record {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	out := []Record{}
	for _, rec := range rs.records {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

func (rs *RecordStore) Count() int {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	n := 0
	for _, rec := range rs.records {
		if rec != nil {
			n++
		}
	}
	return n
}

func (rs *RecordStore) find(ssid string) (Record, bool) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			return *rec, true
		}
	}
	return Record{}, false
}

func (rs *RecordStore) markEverSuccess(ssid string, ever bool) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			if rec.EverSuccess != ever {
				rec.EverSuccess = ever
				if err := rs.persist(); err != nil {
					log.Error("Failed to persist record status : ", err)
				}
			}
			return
		}
	}
}

// markUserDisconnected is runtime state only, it is never persisted.
func (rs *RecordStore) markUserDisconnected(ssid string) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			rec.UserDisconnected = true
			log.Infof("Marked SSID %s as user disconnected", ssid)
			return
		}
	}
}

func (rs *RecordStore) clearUserDisconnected(ssid string) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			if rec.UserDisconnected {
				rec.UserDisconnected = false
				log.Infof("Cleared user disconnected flag for SSID %s", ssid)
			}
			return
		}
	}
}

// resetStatus makes a demoted network eligible for auto-connect
// again.
func (rs *RecordStore) resetStatus(ssid string) error {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	for _, rec := range rs.records {
		if rec != nil && rec.SSID == ssid {
			rec.EverSuccess = true
			rec.UserDisconnected = false
			log.Infof("Reset network status for: %s", ssid)
			return rs.persist()
		}
	}
	return ErrRecordNotFound
}

func (rs *RecordStore) persist() error {
	for i, rec := range rs.records {
		if rec == nil {
			for _, field := range []string{"ssid", "secret", "status"} {
				_ = rs.db.Delete(recordKey(i, field))
			}
			continue
		}
		ever := 0
		if rec.EverSuccess {
			ever = 1
		}
		status := fmt.Sprintf("%d;%d", ever, rec.Sequence)
		if err := rs.db.Put(recordKey(i, "ssid"), []byte(rec.SSID)); err != nil {
			log.Error(err)
			return err
		}
		if err := rs.db.Put(recordKey(i, "secret"), []byte(rec.Secret)); err != nil {
			log.Error(err)
			return err
		}
		if err := rs.db.Put(recordKey(i, "status"), []byte(status)); err != nil {
			log.Error(err)
			return err
		}
	}
	err := rs.db.Put(sequenceKey, []byte(strconv.FormatUint(uint64(rs.sequence), 10)))
	if err != nil {
		log.Error(err)
		return err
	}
	if rs.onChange != nil {
		rs.onChange()
	}
	return nil
}
