// Command msftool packs a directory tree into an MSF archive and unpacks
// it back out.
//
// Usage:
//
//	msftool pack <msf> <path>
//	msftool unpack <msf> <path>
//	msftool list <msf>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/meigma/msf"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "pack":
		if len(os.Args) != 4 {
			usage()
			os.Exit(1)
		}
		err = runPack(ctx, logger, os.Args[2], os.Args[3])
	case "unpack":
		if len(os.Args) != 4 {
			usage()
			os.Exit(1)
		}
		err = runUnpack(ctx, logger, os.Args[2], os.Args[3])
	case "list":
		if len(os.Args) != 3 {
			usage()
			os.Exit(1)
		}
		err = runList(os.Args[2], logger)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: msftool pack|unpack <msf> <path>")
	fmt.Println("       msftool list <msf>")
}

func runPack(ctx context.Context, logger *slog.Logger, archivePath, dir string) error {
	fmt.Printf("packing `%s` into `%s`:\n", dir, archivePath)
	return msf.PackFile(ctx, dir, archivePath,
		msf.PackWithLogger(logger),
		msf.PackWithProgress(printProgress))
}

func runUnpack(ctx context.Context, logger *slog.Logger, archivePath, dir string) error {
	fmt.Printf("unpacking `%s` into `%s`:\n", archivePath, dir)
	return msf.UnpackFile(ctx, archivePath, dir,
		msf.UnpackWithLogger(logger),
		msf.UnpackWithProgress(printProgress))
}

func runList(archivePath string, logger *slog.Logger) error {
	a, err := msf.OpenFile(archivePath, msf.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "offset\tlength\t name")
	for e := range a.Entries() {
		fmt.Fprintf(w, "%d\t%d\t %s\n", e.Offset, e.Length, e.Name)
	}
	return w.Flush()
}

func printProgress(ev msf.ProgressEvent) {
	if ev.Path != "" {
		fmt.Printf("... %s\n", ev.Path)
	}
}
