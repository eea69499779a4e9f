package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreBatchSize stays below the 500 writes a transaction allows.
const firestoreBatchSize = 400

// FirestoreProvider implements Database using Google Cloud Firestore.
// Each series is a document in "statistics" holding its metadata with an
// "hourly" subcollection keyed by the RFC3339 start of each point.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

type firestoreMetadata struct {
	Name   string `firestore:"name"`
	Source string `firestore:"source"`
	Unit   string `firestore:"unit"`
	HasSum bool   `firestore:"hasSum"`
}

type firestorePoint struct {
	Start time.Time `firestore:"start"`
	State float64   `firestore:"state"`
	Sum   float64   `firestore:"sum"`
}

func (p firestorePoint) statistic() types.StatisticPoint {
	return types.StatisticPoint{Start: p.Start.UTC(), State: p.State, Sum: p.Sum}
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) series(statisticID string) (*firestore.DocumentRef, error) {
	if err := validateStatisticID(statisticID); err != nil {
		return nil, err
	}
	return f.client.Collection("statistics").Doc(statisticID), nil
}

func pointDocID(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func lastPointQuery(coll *firestore.CollectionRef) firestore.Query {
	return coll.OrderBy("start", firestore.Desc).Limit(1)
}

func firstPoint(iter *firestore.DocumentIterator) (*types.StatisticPoint, error) {
	defer iter.Stop()
	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p firestorePoint
	if err := doc.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode statistic %s: %w", doc.Ref.ID, err)
	}
	sp := p.statistic()
	return &sp, nil
}

// GetLastStatistic returns the latest point of the series.
func (f *FirestoreProvider) GetLastStatistic(ctx context.Context, statisticID string) (*types.StatisticPoint, error) {
	doc, err := f.series(statisticID)
	if err != nil {
		return nil, err
	}
	p, err := firstPoint(lastPointQuery(doc.Collection("hourly")).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get last statistic: %w", err)
	}
	return p, nil
}

// GetStatistics uses document ID range queries so only the requested window
// is read.
func (f *FirestoreProvider) GetStatistics(ctx context.Context, statisticID string, start time.Time, end *time.Time) ([]types.StatisticPoint, error) {
	doc, err := f.series(statisticID)
	if err != nil {
		return nil, err
	}
	coll := doc.Collection("hourly")
	q := coll.Where(firestore.DocumentID, ">=", coll.Doc(pointDocID(start)))
	if end != nil {
		q = q.Where(firestore.DocumentID, "<", coll.Doc(pointDocID(*end)))
	}
	iter := q.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var points []types.StatisticPoint
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating statistics: %w", err)
		}
		var p firestorePoint
		if err := doc.DataTo(&p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode statistic", slog.String("statisticID", statisticID), slog.String("docID", doc.Ref.ID), slog.Any("error", err))
			return nil, fmt.Errorf("failed to decode statistic (id=%s): %w", doc.Ref.ID, err)
		}
		points = append(points, p.statistic())
	}
	return points, nil
}

// AppendStatistics writes the points in transactions of firestoreBatchSize.
// Every transaction re-reads the last point so concurrent writers cannot
// interleave a regression, and Create fails instead of overwriting a point.
func (f *FirestoreProvider) AppendStatistics(ctx context.Context, meta types.StatisticMetadata, points []types.StatisticPoint) error {
	doc, err := f.series(meta.StatisticID)
	if err != nil {
		return err
	}
	coll := doc.Collection("hourly")
	md := firestoreMetadata{Name: meta.Name, Source: meta.Source, Unit: meta.Unit, HasSum: meta.HasSum}

	if len(points) == 0 {
		if _, err := doc.Set(ctx, md); err != nil {
			return fmt.Errorf("failed to save statistic metadata: %w", err)
		}
		return nil
	}

	var skipped int
	for i := 0; i < len(points); i += firestoreBatchSize {
		end := min(i+firestoreBatchSize, len(points))
		chunk := points[i:end]
		var chunkSkipped int
		err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			last, err := firstPoint(tx.Documents(lastPointQuery(coll)))
			if err != nil {
				return fmt.Errorf("failed to get last statistic: %w", err)
			}
			tail, n, err := appendableTail(last, chunk)
			if err != nil {
				return err
			}
			chunkSkipped = n
			if err := tx.Set(doc, md); err != nil {
				return err
			}
			for _, p := range tail {
				err := tx.Create(coll.Doc(pointDocID(p.Start)), firestorePoint{
					Start: p.Start,
					State: p.State,
					Sum:   p.Sum,
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return fmt.Errorf("statistic already stored for %s: %w", meta.StatisticID, err)
			}
			return fmt.Errorf("failed to append statistics: %w", err)
		}
		skipped += chunkSkipped
	}
	if skipped > 0 {
		log.Ctx(ctx).DebugContext(
			ctx,
			"skipped statistics at or before last stored point",
			slog.String("statisticID", meta.StatisticID),
			slog.Int("skipped", skipped),
		)
	}
	return nil
}

// ListStatisticMetadata returns the metadata of every series document.
func (f *FirestoreProvider) ListStatisticMetadata(ctx context.Context) ([]types.StatisticMetadata, error) {
	iter := f.client.Collection("statistics").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var metas []types.StatisticMetadata
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating statistic metadata: %w", err)
		}
		var md firestoreMetadata
		if err := doc.DataTo(&md); err != nil {
			return nil, fmt.Errorf("failed to decode statistic metadata (id=%s): %w", doc.Ref.ID, err)
		}
		metas = append(metas, types.StatisticMetadata{
			StatisticID: doc.Ref.ID,
			Name:        md.Name,
			Source:      md.Source,
			Unit:        md.Unit,
			HasSum:      md.HasSum,
		})
	}
	return metas, nil
}
