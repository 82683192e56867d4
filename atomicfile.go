package elevatr

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// writeFileAtomic writes a temporary file in filename's directory with write
// and renames it to filename, so readers never observe a partial file.
func writeFileAtomic(filename string, write func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			_ = tempFile.Close()
			_ = os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	if err := write(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tempFile.Name(), filename); err != nil {
		return err
	}
	ok = true
	return nil
}
