package stages

import (
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/mapping"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
)

// Deps are the collaborators of the retailer pipeline. Indexer is optional.
type Deps struct {
	Sink    storage.PersistenceSink
	Events  events.Sink
	Mapping *mapping.DataMapping
	Indexer storage.ProductIndexer
}

// Register wires the retailer stages into o in pipeline order.
func Register(o *ingest.Orchestrator, deps Deps) error {
	if deps.Sink == nil {
		return fmt.Errorf("register retailer stages: persistence sink is required")
	}
	type entry struct {
		kind  ingest.StageKind
		stage ingest.Stage
	}
	registry := []entry{
		{ingest.StageParsing, NewParsing(deps.Mapping)},
		{ingest.StageValidation, NewValidation()},
		{ingest.StageTransformation, NewTransformation(NewResolver(deps.Sink))},
		{ingest.StagePersistence, NewPersistence(deps.Sink, deps.Events)},
	}
	if deps.Indexer != nil {
		registry = append(registry, entry{ingest.StageIndexing, NewIndexing(deps.Indexer)})
	}

	for _, r := range registry {
		if err := o.RegisterStage(r.kind, r.stage); err != nil {
			return fmt.Errorf("register %s stage: %w", r.kind, err)
		}
	}
	return nil
}
