// Package jsondb implements a simple database of JSON documents, keyed by
// name, stored in one directory. Writes are atomic: a document is staged as a
// temporary file and renamed into place, so readers never observe a partially
// written record.
package jsondb

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type JSONDatabase struct {
	dir  string
	perm os.FileMode
}

func New(dir string, perm os.FileMode) *JSONDatabase {
	return &JSONDatabase{dir, perm}
}

// Read unmarshals the named document into document, returning whether it
// exists. A missing document is not an error.
func (db *JSONDatabase) Read(name string, document interface{}) (bool, error) {
	f, err := os.Open(filepath.Join(db.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if document != nil {
		err = json.NewDecoder(f).Decode(document)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (db *JSONDatabase) Write(name string, document interface{}) error {
	return writeFileAtomically(db.dir, name+".json", db.perm, func(f *os.File) error {
		return json.NewEncoder(f).Encode(document)
	})
}

// List returns the names of all documents in the database.
func (db *JSONDatabase) List() ([]string, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	return names, nil
}

func writeFileAtomically(dir, filename string, perm os.FileMode, write func(*os.File) error) error {
	tmpfile, err := os.CreateTemp(dir, filename+"-*.tmp")
	if err != nil {
		return err
	}

	err = write(tmpfile)
	if err != nil {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
		return err
	}

	err = tmpfile.Chmod(perm)
	if err != nil {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
		return err
	}

	err = tmpfile.Close()
	if err != nil {
		os.Remove(tmpfile.Name())
		return err
	}

	err = os.Rename(tmpfile.Name(), filepath.Join(dir, filename))
	if err != nil {
		os.Remove(tmpfile.Name())
		return err
	}

	return nil
}
