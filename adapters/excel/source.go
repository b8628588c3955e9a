package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"alphabias/domain/channel"
	"alphabias/domain/core"
	"alphabias/domain/sample"
	"alphabias/domain/shape"
	"alphabias/ports"
)

// DataProcess is the file name of the observed sample.
const DataProcess = "data"

var extensions = []string{".csv", ".xlsx"}

// DirectorySource loads channel samples from <dir>/<channel>/<process>.csv|xlsx,
// process being data, Vjet, VV or Top.
type DirectorySource struct {
	dir   string
	sheet string
}

var _ ports.SampleSource = (*DirectorySource)(nil)

// NewDirectorySource returns a source rooted at dir.
func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{dir: dir, sheet: DefaultSheet}
}

// WithSheet selects the worksheet read from xlsx files.
func (s *DirectorySource) WithSheet(sheet string) *DirectorySource {
	if sheet != "" {
		s.sheet = sheet
	}
	return s
}

// Load reads the data sample and every component sample of a channel.
func (s *DirectorySource) Load(ctx context.Context, channelName string) (*sample.Samples, error) {
	if _, err := channel.Parse(channelName); err != nil {
		return nil, err
	}
	out := &sample.Samples{Channel: channelName, MC: make(map[shape.Component]*sample.Dataset, len(shape.Components))}

	data, err := s.read(channelName, DataProcess)
	if err != nil {
		return nil, err
	}
	out.Data = data
	for _, c := range shape.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := s.read(channelName, string(c))
		if err != nil {
			return nil, err
		}
		out.MC[c] = ds
	}
	return out, out.Validate()
}

// Path returns the sample file of a process, or "" when none exists.
func (s *DirectorySource) Path(channelName, process string) string {
	for _, ext := range extensions {
		p := filepath.Join(s.dir, channelName, process+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (s *DirectorySource) read(channelName, process string) (*sample.Dataset, error) {
	p := s.Path(channelName, process)
	if p == "" {
		return nil, core.NewNotFoundError("sample", fmt.Sprintf("%s/%s", channelName, process))
	}
	return NewDataReader(p).WithSheet(s.sheet).ReadDataset(process)
}
