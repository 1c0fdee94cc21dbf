package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Organization is one unit of pipeline work.
type Organization struct {
	Name       string
	DomainHint string
	KnownNames []string
}

// Source produces the organizations to process.
type Source interface {
	Organizations() ([]Organization, error)
}

// CSVSource reads organizations from a CSV file with columns
// organization,domain,names where names is ;-separated and the last two
// columns are optional. A header row starting with "organization" is
// skipped.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Organizations() ([]Organization, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open source %s", s.Path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var orgs []Organization
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read source %s", s.Path)
		}
		if len(record) == 0 {
			continue
		}

		name := strings.TrimSpace(record[0])
		if name == "" || strings.EqualFold(name, "organization") {
			continue
		}

		org := Organization{Name: name}
		if len(record) > 1 {
			org.DomainHint = strings.TrimSpace(record[1])
		}
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			for _, n := range strings.Split(record[2], ";") {
				if n = strings.TrimSpace(n); n != "" {
					org.KnownNames = append(org.KnownNames, n)
				}
			}
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// StaticSource wraps a fixed organization list, used for single-org runs.
type StaticSource []Organization

func (s StaticSource) Organizations() ([]Organization, error) {
	return s, nil
}
