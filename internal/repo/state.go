package repo

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
)

// repoState is the persisted part of the repo state. Generation counts
// network record mutations since init.
type repoState struct {
	Generation uint64
}

func initState(path string) error {
	f, err := os.Create(filepath.Join(path, defaultStateFile))
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(&repoState{})
	if err != nil {
		return err
	}
	_, err = f.Write(b)
	return err
}

func readState(path string) (*repoState, error) {
	data, err := ioutil.ReadFile(filepath.Join(path, defaultStateFile))
	if err != nil {
		return nil, err
	}
	st := &repoState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}

func writeState(path string, st *repoState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(path, defaultStateFile), b, 0664)
}
