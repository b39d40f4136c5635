package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// Outputs are the files produced for one executable name.
type Outputs struct {
	Asm string // NASM source
	Obj string // ELF64 object
	Exe string // linked executable
}

// OutputPaths derives the assembly and object names from the executable
// path: "build/out" gives "build/out.asm" and "build/out.o". The paths are
// made absolute so they can key the build log.
func OutputPaths(exe string) (Outputs, error) {
	if exe == "" {
		return Outputs{}, fmt.Errorf("empty output name")
	}
	full, _, err := GetPathInfo(exe)
	if err != nil {
		return Outputs{}, err
	}
	return Outputs{Asm: full + ".asm", Obj: full + ".o", Exe: full}, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so a failed write never leaves a truncated file behind.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
