package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sydlexius/rcindex/internal/ingest"
	"github.com/sydlexius/rcindex/internal/version"
)

// ScanCmd indexes one remote in the foreground, printing progress.
type ScanCmd struct {
	Target string `arg:"" help:"Remote to index, as remote: or remote:path."`
}

func (c *ScanCmd) Run(cli *CLI) error {
	remote, startPath, _ := strings.Cut(c.Target, ":")
	if strings.TrimSpace(remote) == "" {
		return ingest.ErrRemoteRequired
	}

	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scans := a.scanService()
	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(os.Stdout, scans, done)
	}()

	st, err := scans.RunScan(ctx, remote, startPath)
	close(done)
	<-printed
	if err != nil {
		return err
	}
	if st.State == ingest.StateFailed {
		return errors.New(st.Error)
	}
	return nil
}

// printProgress echoes each new last progress line until done is closed,
// then prints whatever the log ends with.
func printProgress(w io.Writer, scans *ingest.Service, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last string
	emit := func() {
		lines := scans.Progress()
		if len(lines) == 0 {
			return
		}
		if l := lines[len(lines)-1]; l != last {
			fmt.Fprintln(w, l)
			last = l
		}
	}
	for {
		select {
		case <-done:
			emit()
			return
		case <-ticker.C:
			emit()
		}
	}
}

// RebuildIndexCmd rebuilds the search index from the catalog.
type RebuildIndexCmd struct{}

func (c *RebuildIndexCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.catalog.RebuildSearchIndex(ctx); err != nil {
		return err
	}
	n, err := a.catalog.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Search index rebuilt over %d files.\n", n)
	return nil
}

// BackupCmd writes one snapshot and applies the retention policy.
type BackupCmd struct{}

func (c *BackupCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()

	backups := a.backupService()
	snap, err := backups.Create(context.Background())
	if err != nil {
		return err
	}
	removed, err := backups.Prune()
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes); pruned %d old snapshots.\n", snap.Name, snap.Size, len(removed))
	return nil
}

// ClearCmd empties the catalog. It asks for confirmation on a terminal
// unless -y is given, and refuses to run unattended without it.
type ClearCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation."`
}

func (c *ClearCmd) Run(cli *CLI) error {
	if !c.Yes {
		ok, err := confirm(os.Stdin, os.Stdout, "Delete every indexed file and scan record?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.catalog.ClearAll(context.Background()); err != nil {
		return err
	}
	fmt.Println("Catalog cleared.")
	return nil
}

func confirm(in *os.File, out io.Writer, prompt string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, errors.New("stdin is not a terminal; pass -y to confirm")
	}
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	return isYes(answer), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// DebugDBCmd prints the first catalog records, one per line.
type DebugDBCmd struct {
	Limit int `short:"n" default:"100" help:"Number of records to print."`
}

func (c *DebugDBCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()

	files, err := a.catalog.List(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("Database is empty.")
		return nil
	}
	for _, f := range files {
		fmt.Printf("%s | %s | %s\n", f.Remote, f.Path, f.Filename)
	}
	return nil
}

// VersionCmd shows build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("rcindex %s (%s)\n", version.Version, version.Commit)
	return nil
}
