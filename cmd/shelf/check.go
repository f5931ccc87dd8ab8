package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/outofforest/shelf"
	"github.com/outofforest/shelf/builder"
	"github.com/outofforest/shelf/config"
	"github.com/outofforest/shelf/pkg/logger"
	"github.com/outofforest/shelf/types"
)

var checkValues = []float64{1.0, 7.0, 3.0, 4.0, 2.0}

func check(args []string, stdout, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "path to the config file")
	memoryLimit := config.Size(0)
	flagSet.Var(&memoryLimit, "memory-limit", "memory limit, e.g. 64MiB")
	journal := flagSet.String("journal", "", "path to the journal file")

	help, err := parseFlags(flagSet, args)
	if err != nil || help {
		if help {
			flagSet.SetOutput(stdout)
			flagSet.PrintDefaults()
		}
		return err
	}

	cfg, err := loadConfig(flagSet, *configPath, &memoryLimit, *journal)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log, stderr)
	if err != nil {
		return err
	}

	s, err := shelf.New(cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	before := s.InstanceStatus()
	printStatus(stdout, "before", before)

	for _, scenario := range scenarios {
		if err := scenario.run(s); err != nil {
			return errors.WithMessagef(err, "scenario %q failed", scenario.name)
		}
		fmt.Fprintf(stdout, "ok  %s\n", scenario.name)
	}

	after := s.InstanceStatus()
	printStatus(stdout, "after", after)
	return nil
}

func printStatus(w io.Writer, label string, status types.InstanceStatus) {
	fmt.Fprintf(w, "%-6s instance=%s usage=%s limit=%s objects=%d blobs=%d persisted=%d\n",
		label,
		status.InstanceID,
		humanize.IBytes(status.MemoryUsage),
		humanize.IBytes(status.MemoryLimit),
		status.Objects,
		status.Blobs,
		status.PersistedObjects)
}

type scenario struct {
	name string
	run  func(s *shelf.Store) error
}

var scenarios = []scenario{
	{name: "deep delete of transient array", run: func(s *shelf.Store) error {
		id, blobID, err := buildArray(s, false)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{id}, false, true); err != nil {
			return err
		}
		return expect(s, id, false, blobID, false)
	}},
	{name: "deep delete of persisted array", run: func(s *shelf.Store) error {
		id, blobID, err := buildArray(s, true)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{id}, false, true); err != nil {
			return err
		}
		return expect(s, id, false, blobID, false)
	}},
	{name: "shallow delete of persisted array", run: func(s *shelf.Store) error {
		id, blobID, err := buildArray(s, true)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{id}, false, false); err != nil {
			return err
		}
		if err := expect(s, id, false, blobID, true); err != nil {
			return err
		}
		return s.DelData([]types.ObjectID{blobID}, false, false)
	}},
	{name: "force delete of referenced blob", run: func(s *shelf.Store) error {
		id, blobID, err := buildArray(s, true)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{blobID}, true, false); err != nil {
			return err
		}
		if s.Exists(blobID) {
			return errors.Errorf("blob %s still exists", blobID)
		}
		if !s.Exists(id) {
			return nil
		}
		return s.DelData([]types.ObjectID{id}, false, true)
	}},
	{name: "shallow delete of multiple objects", run: func(s *shelf.Store) error {
		id, blobID, err := buildArray(s, true)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{id, blobID}, false, false); err != nil {
			return err
		}
		return expect(s, id, false, blobID, false)
	}},
	{name: "force deep delete of nested tuple", run: func(s *shelf.Store) error {
		before := s.InstanceStatus()

		arrays := make([]types.ObjectID, 0, 4)
		for range 4 {
			id, _, err := buildArray(s, false)
			if err != nil {
				return err
			}
			arrays = append(arrays, id)
		}
		pair1, err := builder.Pair(s, "pair", arrays[0], arrays[1])
		if err != nil {
			return err
		}
		pair2, err := builder.Pair(s, "pair", arrays[2], s.MakeEmpty())
		if err != nil {
			return err
		}
		pair3, err := builder.Pair(s, "pair", s.MakeEmpty(), arrays[3])
		if err != nil {
			return err
		}
		tupleID, err := builder.Tuple(s, "tuple", pair1, pair2, pair3)
		if err != nil {
			return err
		}
		if err := s.DelData([]types.ObjectID{tupleID}, true, true); err != nil {
			return err
		}

		after := s.InstanceStatus()
		if before.MemoryUsage != after.MemoryUsage || before.MemoryLimit != after.MemoryLimit {
			return errors.Errorf("memory changed from %d/%d to %d/%d",
				before.MemoryUsage, before.MemoryLimit, after.MemoryUsage, after.MemoryLimit)
		}
		return nil
	}},
}

func buildArray(s *shelf.Store, persist bool) (types.ObjectID, types.ObjectID, error) {
	id, err := builder.Array(s, checkValues)
	if err != nil {
		return types.InvalidObjectID, types.InvalidObjectID, err
	}
	if persist {
		if err := s.Persist(id); err != nil {
			return types.InvalidObjectID, types.InvalidObjectID, err
		}
	}

	r, err := s.Get(id)
	if err != nil {
		return types.InvalidObjectID, types.InvalidObjectID, err
	}
	blobID, exists := r.Member(types.ArrayBufferSlot)
	if !exists {
		return types.InvalidObjectID, types.InvalidObjectID, errors.Errorf("array %s has no buffer", id)
	}
	if len(s.GetBuffers([]types.ObjectID{blobID})) != 1 {
		return types.InvalidObjectID, types.InvalidObjectID, errors.Errorf("buffer %s is not readable", blobID)
	}
	return id, blobID, nil
}

func expect(s *shelf.Store, id types.ObjectID, idExists bool, blobID types.ObjectID, blobExists bool) error {
	if s.Exists(id) != idExists {
		return errors.Errorf("object %s: exists=%t, expected %t", id, !idExists, idExists)
	}
	if s.Exists(blobID) != blobExists {
		return errors.Errorf("blob %s: exists=%t, expected %t", blobID, !blobExists, blobExists)
	}
	if n := len(s.GetBuffers([]types.ObjectID{blobID})); (n == 1) != blobExists {
		return errors.Errorf("blob %s: %d buffers returned", blobID, n)
	}
	return nil
}
