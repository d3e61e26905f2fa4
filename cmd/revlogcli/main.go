// Command revlogcli is a thin operator harness over the revlog store:
// append, read, strip and upgrade a store rooted at a real directory,
// without pulling in any higher-layer repository concerns.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/revlogstore/config"
	"github.com/rcowham/revlogstore/revlog"
	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/rlhash"
	"github.com/rcowham/revlogstore/storetree"
	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/upgrade"
	"github.com/rcowham/revlogstore/vfs"
)

var logger = logrus.New()

func main() {
	app := kingpin.New("revlogcli", "Inspect and mutate a revlog store.")
	app.Version("revlogcli (development build)")

	debug := app.Flag("debug", "Enable debug logging.").Bool()

	appendCmd := app.Command("append", "Append one revision of text read from stdin or --text.")
	appendStore := appendCmd.Arg("store", "Path to the store root.").Required().String()
	appendRadix := appendCmd.Arg("radix", "Revlog radix, e.g. data/foo.").Required().String()
	appendText := appendCmd.Flag("text", "Literal revision text (otherwise read stdin).").String()
	appendP1 := appendCmd.Flag("p1", "First parent revision number.").Default("-1").Int()
	appendP2 := appendCmd.Flag("p2", "Second parent revision number.").Default("-1").Int()
	appendLink := appendCmd.Flag("link", "Link revision number.").Default("0").Int()

	readCmd := app.Command("read", "Print one revision's text to stdout.")
	readStore := readCmd.Arg("store", "Path to the store root.").Required().String()
	readRadix := readCmd.Arg("radix", "Revlog radix.").Required().String()
	readRev := readCmd.Arg("rev", "Revision number.").Required().Int()

	stripCmd := app.Command("strip", "Truncate a revlog back to before a revision.")
	stripStore := stripCmd.Arg("store", "Path to the store root.").Required().String()
	stripRadix := stripCmd.Arg("radix", "Revlog radix.").Required().String()
	stripRev := stripCmd.Arg("rev", "First revision to remove.").Required().Int()

	infoCmd := app.Command("info", "Report a revlog's storage footprint.")
	infoStore := infoCmd.Arg("store", "Path to the store root.").Required().String()
	infoRadix := infoCmd.Arg("radix", "Revlog radix.").Required().String()

	upgradeCmd := app.Command("upgrade", "Upgrade a store's on-disk format.")
	upgradeStore := upgradeCmd.Arg("store", "Path to the store root.").Required().String()
	upgradeTarget := upgradeCmd.Flag("require", "Target requirement token (repeatable).").Strings()
	upgradeOpt := upgradeCmd.Flag("optimization", "re-delta-all|re-delta-parent|re-delta-multibase|re-delta-fulladd").Default("re-delta-parent").String()
	upgradeWorkers := upgradeCmd.Flag("workers", "Concurrent revlog clone workers.").Default("1").Int()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	var err error
	switch cmd {
	case appendCmd.FullCommand():
		err = runAppend(*appendStore, *appendRadix, *appendText, *appendP1, *appendP2, *appendLink)
	case readCmd.FullCommand():
		err = runRead(*readStore, *readRadix, *readRev)
	case stripCmd.FullCommand():
		err = runStrip(*stripStore, *stripRadix, *stripRev)
	case infoCmd.FullCommand():
		err = runInfo(*infoStore, *infoRadix)
	case upgradeCmd.FullCommand():
		err = runUpgrade(*upgradeStore, *upgradeTarget, *upgradeOpt, *upgradeWorkers)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// openStore roots a VFS at repoRoot, the directory containing the store/
// subdirectory (spec §6 "On-disk layout (store root)").
func openStore(repoRoot string) (vfs.VFS, error) {
	return vfs.NewOSFS(repoRoot)
}

func storeRadix(radix string) string {
	return config.DefaultStoreDir + "/" + radix
}

func revlogOptions() revlog.Options {
	cfg, _ := config.Unmarshal(nil)
	return revlog.Options{
		FormatVersion:        revlogindex.Format(cfg.FormatVersion),
		GeneralDelta:         cfg.GeneralDelta,
		Hasher:               rlhash.Standard{},
		Logger:               logger,
		PersistentNodemap:    cfg.PersistentNodemap,
		NodemapFragmentation: cfg.FragmentationRatio,
	}
}

func runAppend(store, radix, text string, p1, p2, link int) error {
	fs, err := openStore(store)
	if err != nil {
		return err
	}
	rl, err := revlog.Open(fs, storeRadix(radix), revlogOptions())
	if err != nil {
		return err
	}
	payload := []byte(text)
	if text == "" {
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, rerr := os.Stdin.Read(chunk)
			buf = append(buf, chunk[:n]...)
			if rerr != nil {
				break
			}
		}
		payload = buf
	}
	tr := txn.New(fs, "append")
	rev, err := rl.AddRevision(tr, payload, revlog.Rev(p1), revlog.Rev(p2), link, nil, 0, revlog.DeltaSameRevs)
	if err != nil {
		_ = rl.Abort(tr)
		return err
	}
	if err := rl.Commit(tr); err != nil {
		return err
	}
	node, err := rl.Node(rev)
	if err != nil {
		return err
	}
	fmt.Printf("rev %d node %s\n", rev, node.Hex())
	return nil
}

func runRead(store, radix string, rev int) error {
	fs, err := openStore(store)
	if err != nil {
		return err
	}
	rl, err := revlog.Open(fs, storeRadix(radix), revlogOptions())
	if err != nil {
		return err
	}
	text, err := rl.Revision(revlog.Rev(rev))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(text)
	return err
}

func runStrip(store, radix string, rev int) error {
	fs, err := openStore(store)
	if err != nil {
		return err
	}
	rl, err := revlog.Open(fs, storeRadix(radix), revlogOptions())
	if err != nil {
		return err
	}
	tr := txn.New(fs, "strip")
	if err := rl.Strip(tr, revlog.Rev(rev)); err != nil {
		_ = tr.Abort()
		return err
	}
	return tr.Commit()
}

func runInfo(store, radix string) error {
	fs, err := openStore(store)
	if err != nil {
		return err
	}
	rl, err := revlog.Open(fs, storeRadix(radix), revlogOptions())
	if err != nil {
		return err
	}
	info, err := rl.StorageInfo()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d revisions, format v%d, index %s, data %s\n",
		info.Radix, info.Revisions, info.Format,
		humanize.Bytes(uint64(info.IndexBytes)), humanize.Bytes(uint64(info.DataBytes)))
	return nil
}

func runUpgrade(store string, targetReqs []string, optimization string, workers int) error {
	fs, err := openStore(store)
	if err != nil {
		return err
	}
	if len(targetReqs) == 0 {
		cfg, _ := config.Unmarshal(nil)
		targetReqs = cfg.Requires
	}
	e := upgrade.NewEngine(fs, config.DefaultStoreDir, upgrade.Options{
		Filter:             upgrade.FilterAll,
		Optimization:       upgrade.Optimization(optimization),
		TargetRequirements: targetReqs,
		RevlogOptions:      revlogOptions(),
		Workers:            workers,
		Logger:             logger,
		Progress: func(radix string, kind storetree.Kind, revisions int) {
			logger.Infof("migrated %s (%s): %d revisions", radix, kind, revisions)
		},
	})
	report, err := e.Run()
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	return nil
}
