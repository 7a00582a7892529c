package repo

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	root := filepath.Join("../../test", "root1")
	defer func() {
		err := os.RemoveAll(root)
		if err != nil {
			t.Fatal(err)
		}
	}()
	err := Init(root, "0")
	if err != nil {
		t.Fatal(err)
	}
	_, err = os.Stat(root)
	if err != nil {
		t.Fatal(err)
	}
	cfgFName, err := ConfigFilename(root)
	if err != nil {
		t.Fatal(err)
	}
	_, err = os.Stat(cfgFName)
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpen(t *testing.T) {
	<-time.After(time.Second)
	root := filepath.Join("../../test", "root1")
	defer func() {
		err := os.RemoveAll(root)
		if err != nil {
			t.Fatal(err)
		}
	}()
	err := Init(root, "0")
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = os.Stat(filepath.Join(root, defaultDatastoreFolderName))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := r.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIPort != "5679" {
		t.Fatal("port zero must fall back to the default api port")
	}
	if r.Stats() == nil {
		t.Fatal("stats keeper not initialised")
	}
}

func TestOpenLocked(t *testing.T) {
	<-time.After(time.Second)
	root := filepath.Join("../../test", "root2")
	defer func() {
		err := os.RemoveAll(root)
		if err != nil {
			t.Fatal(err)
		}
	}()
	err := Init(root, "0")
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = Open(root)
	if err == nil {
		t.Fatal("second open must fail while the repo is locked")
	}
}

func TestStateGeneration(t *testing.T) {
	<-time.After(time.Second)
	root := filepath.Join("../../test", "root3")
	defer func() {
		err := os.RemoveAll(root)
		if err != nil {
			t.Fatal(err)
		}
	}()
	err := Init(root, "0")
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	if r.State() != 0 {
		t.Fatal("fresh repo must begin at generation zero")
	}
	for i := 0; i < 3; i++ {
		err = r.BumpState()
		if err != nil {
			t.Fatal(err)
		}
	}
	if r.State() != 3 {
		t.Fatal("generation did not advance")
	}
	err = r.Close()
	if err != nil {
		t.Fatal(err)
	}
	r, err = Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.State() != 3 {
		t.Fatal("generation did not survive reopen")
	}
}

func TestClosedRepo(t *testing.T) {
	<-time.After(time.Second)
	root := filepath.Join("../../test", "root4")
	defer func() {
		err := os.RemoveAll(root)
		if err != nil {
			t.Fatal(err)
		}
	}()
	err := Init(root, "0")
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	err = r.Close()
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Config()
	if err != ErrorRepoClosed {
		t.Fatal("config access on a closed repo must fail")
	}
}
