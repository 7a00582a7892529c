package stats

import (
	"encoding/json"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
)

var (
	log = logging.Logger("stats")

	bridgeStatsKey = ds.NewKey("/bridge/stats")
)

// flushEvery is expressed in ticker rounds (10s each)
const flushEvery = 30

// BridgeStats are the monotonic traffic counters of the serial bridge.
// They only ever grow, except through Reset.
type BridgeStats struct {
	UARTTxBytes         uint64
	UARTRxBytes         uint64
	UARTTxDropBytes     uint64 // discarded by backpressure, outbound buffer full
	UARTTxErrorBytes    uint64 // accepted by the policy but refused by the driver
	UARTRxErrors        uint64
	TCPTxBytes          uint64
	TCPRxBytes          uint64
	TCPTxErrorBytes     uint64
	TCPConnectCount     uint64
	TCPDisconnectCount  uint64
	BufferOverflowCount uint64
	TotalUptime         int64 // seconds the keeper has been running
}

// Keeper owns the bridge stats. All access goes through its lock and
// reads are full snapshots.
type Keeper struct {
	mtx             sync.Mutex
	stop            chan struct{}
	isTickerRunning bool
	db              ds.Datastore
	stats           *BridgeStats
}

func NewKeeper(db ds.Datastore) *Keeper {
	keeper := &Keeper{
		// buffered so Close can signal the ticker while holding the lock
		stop:  make(chan struct{}, 1),
		db:    db,
		stats: &BridgeStats{},
	}
	b, err := keeper.db.Get(bridgeStatsKey)
	if err != nil {
		log.Debug("No stored bridge stats : ", err)
		return keeper
	}
	err = json.Unmarshal(b, keeper.stats)
	if err != nil {
		log.Error("Unable to load bridge stats : ", err)
		keeper.stats = &BridgeStats{}
	}
	return keeper
}

// StartTicker accounts uptime and flushes the counters periodically
func (keeper *Keeper) StartTicker() {
	keeper.mtx.Lock()
	if keeper.isTickerRunning {
		keeper.mtx.Unlock()
		return
	}
	keeper.isTickerRunning = true
	keeper.mtx.Unlock()
	go func() {
		rounds := 0
		for {
			select {
			case <-keeper.stop:
				return
			case <-time.After(time.Second * 10):
				keeper.mtx.Lock()
				keeper.stats.TotalUptime += 10
				keeper.mtx.Unlock()
				rounds++
				if rounds%flushEvery == 0 {
					if err := keeper.Flush(); err != nil {
						log.Error("Periodic stats flush failed : ", err)
					}
				}
			}
		}
	}()
}

func (keeper *Keeper) Flush() error {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	return keeper.flush()
}

func (keeper *Keeper) flush() error {
	b, err := json.Marshal(keeper.stats)
	if err != nil {
		log.Error(err)
		return err
	}
	err = keeper.db.Put(bridgeStatsKey, b)
	if err != nil {
		log.Error(err)
		return err
	}
	log.Debug("Flushed")
	return nil
}

func (keeper *Keeper) Close() error {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()
	err := keeper.flush()
	if err != nil {
		log.Error(err)
		return err
	}
	if keeper.isTickerRunning {
		keeper.stop <- struct{}{}
		keeper.isTickerRunning = false
	}
	return nil
}

// Snapshot returns a copy of the counters, never a partial read
func (keeper *Keeper) Snapshot() BridgeStats {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	return *keeper.stats
}

// Reset zeroes the traffic counters and persists immediately. Uptime
// is not a traffic counter and survives.
func (keeper *Keeper) Reset() error {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	uptime := keeper.stats.TotalUptime
	*keeper.stats = BridgeStats{TotalUptime: uptime}
	log.Info("Statistics reset")
	return keeper.flush()
}

func (keeper *Keeper) Uptime() int64 {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	return keeper.stats.TotalUptime
}

func (keeper *Keeper) UARTSent(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.UARTTxBytes += uint64(n)
}

func (keeper *Keeper) UARTReceived(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.UARTRxBytes += uint64(n)
}

// UARTDropped counts bytes discarded because the outbound buffer had no
// room. Every call is one overflow event.
func (keeper *Keeper) UARTDropped(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.UARTTxDropBytes += uint64(n)
	keeper.stats.BufferOverflowCount++
}

func (keeper *Keeper) UARTWriteError(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.UARTTxErrorBytes += uint64(n)
}

func (keeper *Keeper) UARTReadError() {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.UARTRxErrors++
}

func (keeper *Keeper) TCPSent(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.TCPTxBytes += uint64(n)
}

func (keeper *Keeper) TCPReceived(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.TCPRxBytes += uint64(n)
}

func (keeper *Keeper) TCPSendError(n int) {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.TCPTxErrorBytes += uint64(n)
}

func (keeper *Keeper) ClientConnected() {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.TCPConnectCount++
}

func (keeper *Keeper) ClientDisconnected() {
	keeper.mtx.Lock()
	defer keeper.mtx.Unlock()

	keeper.stats.TCPDisconnectCount++
}
