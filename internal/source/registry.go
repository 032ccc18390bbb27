package source

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// Registry maps source ids to their adapters.
type Registry struct {
	sources map[model.SourceID]Source
	order   []model.SourceID // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all configured adapters.
func NewRegistry(cfg *config.Config, f fetcher.Fetcher, ftp *fetcher.FTPFetcher, stations []config.Station) *Registry {
	retry := resilience.FromConfig(
		cfg.Ingest.RetryMaxAttempts,
		cfg.Ingest.RetryBackoffMs,
		cfg.Ingest.RetryMaxBackoffMs,
	)

	r := &Registry{sources: make(map[model.SourceID]Source)}
	r.Register(NewNotices(cfg.EBB, f, retry))
	r.Register(NewCapacity(cfg.EBB, f, retry))
	r.Register(NewSpot(cfg.EIA, f, retry))
	r.Register(NewStorage(cfg.EIA, f, retry))
	r.Register(NewWeather(cfg.NOAA, stations, f, ftp, retry))
	return r
}

// Register adds a source adapter to the registry.
func (r *Registry) Register(s Source) {
	if r.sources == nil {
		r.sources = make(map[model.SourceID]Source)
	}
	id := s.Name()
	r.sources[id] = s
	r.order = append(r.order, id)
}

// Get returns a source by id.
func (r *Registry) Get(id model.SourceID) (Source, error) {
	s, ok := r.sources[id]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", id)
	}
	return s, nil
}

// Select returns the named sources, or every registered source when names
// is empty. Order follows registration order.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		out := make([]Source, 0, len(r.order))
		for _, id := range r.order {
			out = append(out, r.sources[id])
		}
		return out, nil
	}

	var out []Source
	for _, n := range names {
		s, err := r.Get(model.SourceID(n))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
