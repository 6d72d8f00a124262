package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/timing"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/leaselock"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	"github.com/OFFIS-RIT/agentkg/pkg/pipeline"

	"golang.org/x/sync/errgroup"
)

// DocumentSource loads document text stored outside the message.
type DocumentSource interface {
	GetDocument(ctx context.Context, key string) (string, error)
}

// SnapshotArchive keeps a copy of every saved ontology version.
type SnapshotArchive interface {
	ArchiveOntology(ctx context.Context, domain string, s *ontology.Schema) error
}

// Processor runs batch messages through the pipeline. Batches of one domain
// are serialized across workers by a lease on the domain's ontology.
type Processor struct {
	Pipeline  *pipeline.Pipeline
	Schemas   ontology.SchemaStore
	Locker    leaselock.Locker
	Publisher Publisher

	// Documents is required only for messages referencing s3 keys.
	Documents DocumentSource
	// Archive is optional.
	Archive SnapshotArchive

	LockOptions leaselock.Options
}

// fetchConcurrency bounds parallel document downloads.
const fetchConcurrency = 8

func (p *Processor) documents(ctx context.Context, msg *BatchMsg) ([]common.Document, error) {
	if p.Documents == nil {
		for _, d := range msg.Documents {
			if d.Text == "" {
				return nil, fmt.Errorf("%w: document %s references s3 key %s but no document store is configured", ErrMalformed, d.ID, d.S3Key)
			}
		}
	}

	docs := make([]common.Document, len(msg.Documents))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, d := range msg.Documents {
		if d.Text != "" {
			docs[i] = d.Document(d.Text)
			continue
		}
		g.Go(func() error {
			text, err := p.Documents.GetDocument(gCtx, d.S3Key)
			if err != nil {
				return fmt.Errorf("failed to load document %s: %w", d.ID, err)
			}
			docs[i] = d.Document(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Process handles one message body. Errors wrapping ErrMalformed are final;
// anything else may succeed on a retry since exports are idempotent.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	start := time.Now()
	msg, err := DecodeBatchMsg(body)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Processing batch", "batch_id", msg.BatchID, "domain", msg.Domain, "documents", len(msg.Documents))

	docs, err := p.documents(ctx, msg)
	if err != nil {
		return err
	}

	var res *pipeline.Result
	err = p.Locker.WithLease(ctx, leaselock.OntologyKey(msg.Domain), p.LockOptions, func(ctx context.Context) error {
		latest, err := p.Schemas.Latest(ctx, msg.Domain)
		if err != nil {
			return fmt.Errorf("failed to load ontology for %s: %w", msg.Domain, err)
		}
		p.Pipeline.SetOntology(latest)

		res, err = p.Pipeline.Run(ctx, docs)
		if err != nil {
			return err
		}

		schema := p.Pipeline.Ontology()
		if schema == nil {
			return nil
		}
		if err := p.Schemas.Save(ctx, msg.Domain, schema); err != nil {
			return fmt.Errorf("failed to save ontology for %s: %w", msg.Domain, err)
		}
		if p.Archive != nil && (latest == nil || schema.Version != latest.Version) {
			if err := p.Archive.ArchiveOntology(ctx, msg.Domain, schema); err != nil {
				logger.Warn("[Queue] Failed to archive ontology", "domain", msg.Domain, "version", schema.Version, "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	done, err := json.Marshal(BatchDoneMsg{BatchID: msg.BatchID, Domain: msg.Domain, Result: res})
	if err != nil {
		return fmt.Errorf("failed to encode batch result: %w", err)
	}
	if err := p.Publisher.PublishTopic(ctx, TopicBatchDone, done); err != nil {
		// The graph is already written; a redelivery would only repeat it.
		logger.Error("[Queue] Failed to publish batch result", "batch_id", msg.BatchID, "err", err)
	}

	logger.Info("[Queue] Batch processed",
		"batch_id", msg.BatchID,
		"domain", msg.Domain,
		"relations", res.RelationsCount,
		"ontology_version", res.OntologyVersion,
		"duration", timing.Clock(time.Since(start)),
	)
	return nil
}
