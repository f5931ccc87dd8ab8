package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/outofforest/shelf/persistence"
	"github.com/outofforest/shelf/pkg/filedev"
)

func inspect(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	journal := flagSet.String("journal", "", "path to the journal file")

	help, err := parseFlags(flagSet, args)
	if err != nil || help {
		if help {
			flagSet.PrintDefaults()
		}
		return err
	}
	if *journal == "" {
		return errors.New("--journal is required")
	}

	if _, err := os.Stat(*journal); err != nil {
		return errors.WithStack(err)
	}

	dev, err := filedev.Open(*journal)
	if err != nil {
		return err
	}
	defer dev.Close()

	header, records, err := persistence.Replay(dev)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "instance=%s version=%d compression=%s persisted=%d\n",
		header.InstanceID, header.Version, header.Compression, len(records))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTYPE\tMEMBERS\tPERSISTED AT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Kind, r.TypeName, len(r.Members), r.CreatedAt.UTC().Format(time.RFC3339))
	}
	return errors.WithStack(tw.Flush())
}
