package csvreport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/ports"
)

// Kind names one of the report directories under the output root.
type Kind string

const (
	KindEnriched        Kind = "enriched"
	KindDisposals       Kind = "results"
	KindTaxTransactions Kind = "results_tax"
	KindTaxLots         Kind = "results_tax_gl"
)

// Layout builds report paths of the form <root>/<kind>/<currency>_<start>--<end>.csv.
type Layout struct {
	Root  string
	Start time.Time
	End   time.Time
}

const dateLayout = "2006-01-02"

// Path returns the report path of one currency.
func (l Layout) Path(kind Kind, currency string) string {
	return filepath.Join(l.Root, string(kind), fmt.Sprintf("%s_%s--%s.csv", currency, l.Start.Format(dateLayout), l.End.Format(dateLayout)))
}

// TotalPath returns the path of the report merging every currency.
func (l Layout) TotalPath(kind Kind) string {
	return l.Path(kind, "TOTAL")
}

// WriteFile creates path (and its directory) and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory '%s': %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report '%s': %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report '%s': %w", path, err)
	}
	return f.Close()
}

// ReadFillsFile reads one fills report from disk.
func ReadFillsFile(path string) ([]domain.TradeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fills '%s': %w", path, err)
	}
	defer f.Close()
	rows, err := ReadFills(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// DirSource implements ports.TradeSource over a directory of fills reports.
type DirSource struct {
	dir    string
	logger ports.Logger
}

// NewDirSource creates a source reading every *.csv file directly inside dir.
func NewDirSource(dir string, logger ports.Logger) (*DirSource, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for fills source")
	}
	if dir == "" {
		return nil, fmt.Errorf("fills directory is required: %w", ports.ErrConfigurationError)
	}
	return &DirSource{dir: dir, logger: logger}, nil
}

// LoadTrades returns the rows of the listed products created at or before end, ordered by
// creation time. Files are read in name order.
func (s *DirSource) LoadTrades(ctx context.Context, products []string, end time.Time) ([]domain.TradeRow, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills directory '%s': %w", s.dir, err)
	}

	wanted := make(map[string]bool, len(products))
	for _, p := range products {
		wanted[strings.ToUpper(strings.TrimSpace(p))] = true
	}

	var rows []domain.TradeRow
	files := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		fileRows, err := ReadFillsFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files++
		for _, r := range fileRows {
			if !wanted[strings.ToUpper(r.Product)] || r.CreatedAt.After(end) {
				continue
			}
			rows = append(rows, r)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	s.logger.Info(ctx, "Fills loaded", map[string]interface{}{
		"dir":      s.dir,
		"files":    files,
		"products": strings.Join(products, ","),
		"rows":     len(rows),
	})
	return rows, nil
}
