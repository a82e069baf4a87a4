package cli

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/tagger/internal/storage"
)

func (c *CLI) newDataCommand() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect and archive annotation data folders",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var statsFolder string
	statsCmd := &cobra.Command{
		Use:     "stats",
		Short:   "Count annotated queries and entities per type",
		Example: `  tagger data stats --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataStats(cmd.OutOrStdout(), statsFolder)
		},
	}
	statsCmd.Flags().StringVar(&statsFolder, "data-folder", "data", "Path to annotation data folder")

	var packFolder string
	packCmd := &cobra.Command{
		Use:   "pack <archive>",
		Short: "Pack a data folder into a .tar.gz or .tar.zst archive",
		Args:  cobra.ExactArgs(1),
		Example: `  tagger data pack data.tar.gz
  tagger data pack data.tar.zst --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataPack(packFolder, args[0])
		},
	}
	packCmd.Flags().StringVar(&packFolder, "data-folder", "data", "Source folder for annotation data")

	var unpackFolder string
	unpackCmd := &cobra.Command{
		Use:     "unpack <archive>",
		Short:   "Extract an archive written by pack, replacing the data folder",
		Args:    cobra.ExactArgs(1),
		Example: `  tagger data unpack data.tar.gz --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataUnpack(args[0], unpackFolder)
		},
	}
	unpackCmd.Flags().StringVar(&unpackFolder, "data-folder", "data", "Destination folder for annotation data")

	dataCmd.AddCommand(statsCmd, packCmd, unpackCmd)
	return dataCmd
}

func dataStats(w io.Writer, dataFolder string) error {
	store := storage.NewStorage(dataFolder)
	annotations, err := store.IterAnnotations(storage.DefaultIterOptions())
	if err != nil {
		return err
	}
	gaz, err := store.Gazetteers()
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	tokens := 0
	for _, ann := range annotations {
		tokens += len(ann.Tokens)
		for _, s := range ann.Spans {
			counts[s.Type]++
		}
	}
	fmt.Fprintf(w, "Queries: %d\nTokens: %d\n", len(annotations), tokens)
	for _, typ := range sortedKeys(counts) {
		fmt.Fprintf(w, "  %-20s %6d\n", typ, counts[typ])
	}
	if len(gaz) > 0 {
		fmt.Fprintf(w, "Gazetteers:\n")
		for _, typ := range sortedKeys(gaz) {
			fmt.Fprintf(w, "  %-20s %6d\n", typ, len(gaz[typ].Entities))
		}
	}
	return nil
}

type compressor func(io.Writer) (io.WriteCloser, error)

func archiveWriter(path string) (compressor, error) {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }, nil
	case strings.HasSuffix(path, ".tar.zst"):
		return func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) }, nil
	}
	return nil, fmt.Errorf("unsupported archive %s: want .tar.gz or .tar.zst", path)
}

func archiveReader(path string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported archive %s: want .tar.gz or .tar.zst", path)
}

func dataPack(dataFolder, archivePath string) error {
	newCompressor, err := archiveWriter(archivePath)
	if err != nil {
		return err
	}
	slog.Info("Creating archive", "source", dataFolder, "dest", archivePath)

	tf, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", archivePath, err)
	}
	cw, err := newCompressor(tf)
	if err != nil {
		_ = tf.Close()
		return err
	}
	tw := tar.NewWriter(cw)

	count := 0
	err = filepath.Walk(dataFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataFolder, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join("data", rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		count++
		return err
	})
	if err != nil {
		_ = tw.Close()
		_ = cw.Close()
		_ = tf.Close()
		return fmt.Errorf("create archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		_ = cw.Close()
		_ = tf.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		_ = tf.Close()
		return fmt.Errorf("close compressor: %w", err)
	}
	if err := tf.Close(); err != nil {
		return err
	}
	slog.Info("Archive created", "path", archivePath, "files", count)
	return nil
}

func dataUnpack(archivePath, dataFolder string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	cr, err := archiveReader(archivePath, f)
	if err != nil {
		return err
	}
	defer func() { _ = cr.Close() }()

	if err := os.RemoveAll(dataFolder); err != nil {
		return fmt.Errorf("remove existing %s: %w", dataFolder, err)
	}

	tr := tar.NewReader(cr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel("data", name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q outside data/", hdr.Name)
		}
		target := filepath.Join(dataFolder, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			out, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return fmt.Errorf("write file %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
			count++
		}
	}
	slog.Info("Annotation data extracted", "files", count, "folder", dataFolder)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
