package stats

import (
	"os"
	"testing"

	leveldb "github.com/ipfs/go-ds-leveldb"
)

func setupDatastore(t *testing.T, root string) *leveldb.Datastore {
	err := os.MkdirAll(root, os.ModePerm)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := leveldb.NewDatastore(root, &leveldb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestKeeperCounters(t *testing.T) {
	root := "../../test" + string(os.PathSeparator) + "stats_counters"
	ds := setupDatastore(t, root)
	defer removeRepo(root, t)
	defer ds.Close()
	keeper := NewKeeper(ds)
	keeper.UARTSent(128)
	keeper.UARTSent(64)
	keeper.UARTReceived(32)
	keeper.TCPSent(256)
	keeper.TCPReceived(16)
	keeper.TCPSendError(8)
	keeper.UARTWriteError(4)
	keeper.UARTReadError()
	keeper.ClientConnected()
	keeper.ClientConnected()
	keeper.ClientDisconnected()
	snap := keeper.Snapshot()
	if snap.UARTTxBytes != 192 {
		t.Fatal("uart tx bytes mismatch")
	}
	if snap.UARTRxBytes != 32 {
		t.Fatal("uart rx bytes mismatch")
	}
	if snap.TCPTxBytes != 256 || snap.TCPRxBytes != 16 {
		t.Fatal("tcp byte counters mismatch")
	}
	if snap.TCPTxErrorBytes != 8 || snap.UARTTxErrorBytes != 4 {
		t.Fatal("error byte counters mismatch")
	}
	if snap.UARTRxErrors != 1 {
		t.Fatal("uart rx error count mismatch")
	}
	if snap.TCPConnectCount != 2 || snap.TCPDisconnectCount != 1 {
		t.Fatal("client counters mismatch")
	}
}

func TestKeeperDropAccounting(t *testing.T) {
	root := "../../test" + string(os.PathSeparator) + "stats_drop"
	ds := setupDatastore(t, root)
	defer removeRepo(root, t)
	defer ds.Close()
	keeper := NewKeeper(ds)
	keeper.UARTDropped(1500)
	keeper.UARTDropped(100)
	snap := keeper.Snapshot()
	if snap.UARTTxDropBytes != 1600 {
		t.Fatal("drop bytes mismatch")
	}
	if snap.BufferOverflowCount != 2 {
		t.Fatal("every drop must count one overflow event")
	}
}

func TestKeeperPersistence(t *testing.T) {
	root := "../../test" + string(os.PathSeparator) + "stats_persist"
	ds := setupDatastore(t, root)
	defer removeRepo(root, t)
	defer ds.Close()
	keeper := NewKeeper(ds)
	keeper.UARTSent(1024)
	keeper.ClientConnected()
	err := keeper.Close()
	if err != nil {
		t.Fatal(err)
	}
	reloaded := NewKeeper(ds)
	snap := reloaded.Snapshot()
	if snap.UARTTxBytes != 1024 {
		t.Fatal("uart tx bytes did not survive reload")
	}
	if snap.TCPConnectCount != 1 {
		t.Fatal("connect count did not survive reload")
	}
}

func TestKeeperReset(t *testing.T) {
	root := "../../test" + string(os.PathSeparator) + "stats_reset"
	ds := setupDatastore(t, root)
	defer removeRepo(root, t)
	defer ds.Close()
	keeper := NewKeeper(ds)
	keeper.UARTSent(10)
	keeper.TCPReceived(20)
	keeper.UARTDropped(30)
	err := keeper.Reset()
	if err != nil {
		t.Fatal(err)
	}
	snap := keeper.Snapshot()
	if snap.UARTTxBytes != 0 || snap.TCPRxBytes != 0 || snap.UARTTxDropBytes != 0 || snap.BufferOverflowCount != 0 {
		t.Fatal("reset must zero the traffic counters")
	}
	reloaded := NewKeeper(ds)
	snap = reloaded.Snapshot()
	if snap.UARTTxBytes != 0 {
		t.Fatal("reset was not persisted")
	}
}

func TestKeeperTicker(t *testing.T) {
	root := "../../test" + string(os.PathSeparator) + "stats_ticker"
	ds := setupDatastore(t, root)
	defer removeRepo(root, t)
	defer ds.Close()
	keeper := NewKeeper(ds)
	keeper.StartTicker()
	keeper.StartTicker()
	err := keeper.Close()
	if err != nil {
		t.Fatal(err)
	}
}

func removeRepo(repopath string, t *testing.T) {
	err := os.RemoveAll(repopath)
	if err != nil {
		t.Fatal(err)
	}
}
