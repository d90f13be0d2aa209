/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package distconfig

import (
	"bytes"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultConfigDir is where the orchestration platform materializes the
// distributed descriptor before the process starts.
const DefaultConfigDir = "/valohai/config"

type candidate struct {
	Name   string
	Format string
}

// candidates are tried in order and the first one that exists is used.
var candidates = []candidate{
	{Name: "distributed.json", Format: "json"},
	{Name: "distributed.yaml", Format: "yaml"},
	{Name: "distributed.yml", Format: "yaml"},
}

// RawDescriptor is the untyped tree decoded from a descriptor file.
type RawDescriptor struct {
	Path   string
	Format string
	Tree   map[string]interface{}
}

type Loader interface {
	Load() (*RawDescriptor, error)
}

type DirLoaderOptions struct {
	Logger *zap.Logger
	Fs     afero.Fs
	Dir    string
}

type DirLoader struct {
	logger *zap.Logger
	fs     afero.Fs
	dir    string
}

var _ Loader = (*DirLoader)(nil)

func NewDirLoader(opts DirLoaderOptions) *DirLoader {
	l := &DirLoader{
		logger: opts.Logger,
		fs:     opts.Fs,
		dir:    opts.Dir,
	}

	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.fs == nil {
		l.fs = afero.NewOsFs()
	}
	if l.dir == "" {
		l.dir = DefaultConfigDir
	}

	return l
}

// LoadDir reads the descriptor from dir on the local filesystem.
func LoadDir(dir string) (*RawDescriptor, error) {
	return NewDirLoader(DirLoaderOptions{Dir: dir}).Load()
}

func (l *DirLoader) Dir() string {
	return l.dir
}

func (l *DirLoader) locate() (*candidate, string, error) {
	var tried []string
	for i := range candidates {
		path := filepath.Join(l.dir, candidates[i].Name)
		tried = append(tried, candidates[i].Name)

		exists, err := afero.Exists(l.fs, path)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to stat %s", path)
		}
		if exists {
			return &candidates[i], path, nil
		}
	}

	return nil, "", &ConfigNotFoundError{
		Dir:   l.dir,
		Tried: tried,
	}
}

func (l *DirLoader) Load() (*RawDescriptor, error) {
	cand, path, err := l.locate()
	if err != nil {
		return nil, err
	}

	l.logger.Debug("reading distributed config",
		zap.String("path", path),
		zap.String("format", cand.Format))

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, &ConfigParseError{
			Path:   path,
			Format: cand.Format,
			Cause:  errors.Wrap(err, "failed to read file"),
		}
	}

	tree, err := decode(data, cand.Format)
	if err != nil {
		return nil, &ConfigParseError{
			Path:   path,
			Format: cand.Format,
			Cause:  err,
		}
	}

	return &RawDescriptor{
		Path:   path,
		Format: cand.Format,
		Tree:   tree,
	}, nil
}

func decode(data []byte, format string) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("file is empty")
	}

	// exposed port specs may contain dots, so the default "." delimiter
	// would split them into nested keys.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType(format)

	err := v.ReadConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode")
	}

	return v.AllSettings(), nil
}
