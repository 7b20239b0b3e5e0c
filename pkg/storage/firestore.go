package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. It persists settings, the ledger record, the baseline EMA,
// prices, and the per-cycle audit trail.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
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

		// set this because that's how the firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty if it can be inferred from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
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

// GetSettings retrieves the dynamic configuration from the "config/settings"
// document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	version := docVersion(doc)

	var s types.Settings
	if err := unmarshalDocJSON(doc, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "bad settings doc", slog.Any("err", err))
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings"
// document. It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// SaveLedger writes the single durable ledger record. Firestore document
// writes are atomic, so a failed write leaves the prior record intact.
func (f *FirestoreProvider) SaveLedger(ctx context.Context, state types.LedgerState, version int) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	_, err = f.client.Collection("state").Doc("ledger").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// LoadLedger reads the ledger record written by SaveLedger. A missing record
// returns a zero state and no error.
func (f *FirestoreProvider) LoadLedger(ctx context.Context) (types.LedgerState, int, error) {
	doc, err := f.client.Collection("state").Doc("ledger").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.LedgerState{}, 0, nil
		}
		return types.LedgerState{}, 0, fmt.Errorf("failed to fetch ledger doc: %w", err)
	}
	var s types.LedgerState
	if err := unmarshalDocJSON(doc, &s); err != nil {
		return types.LedgerState{}, 0, err
	}
	return s, docVersion(doc), nil
}

// SaveEMA persists the baseline estimator's carried EMA state.
func (f *FirestoreProvider) SaveEMA(ctx context.Context, state types.EMAState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal ema state: %w", err)
	}
	_, err = f.client.Collection("state").Doc("baseline_ema").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save ema state: %w", err)
	}
	return nil
}

// LoadEMA reads the baseline estimator's EMA state. A missing record returns
// an unseeded state and no error.
func (f *FirestoreProvider) LoadEMA(ctx context.Context) (types.EMAState, error) {
	doc, err := f.client.Collection("state").Doc("baseline_ema").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.EMAState{}, nil
		}
		return types.EMAState{}, fmt.Errorf("failed to fetch ema doc: %w", err)
	}
	var s types.EMAState
	if err := unmarshalDocJSON(doc, &s); err != nil {
		return types.EMAState{}, err
	}
	return s, nil
}

// UpsertPrice adds or updates a price record in the "price_history"
// collection. The document ID is the RFC3339 timestamp for lexicographic
// ordering and efficient range queries.
func (f *FirestoreProvider) UpsertPrice(ctx context.Context, price types.Price, version int) error {
	if price.TSStart.IsZero() {
		return fmt.Errorf("price missing tsStart")
	}
	jsonBytes, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	docID := price.TSStart.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("price_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": price.TSStart,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// GetPriceHistory retrieves price records within the specified time range.
// Uses document ID range queries to avoid reading all documents.
func (f *FirestoreProvider) GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	coll := f.client.Collection("price_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var prices []types.Price
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating prices: %w", err)
		}
		var p types.Price
		if err := unmarshalDocJSON(doc, &p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad price doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// GetLatestPriceHistoryTime retrieves the timestamp of the last stored price
// record.
func (f *FirestoreProvider) GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error) {
	iter := f.client.Collection("price_history").
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get latest price doc: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid price doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, docVersion(doc), nil
}

// InsertCycle adds a cycle result to the "cycle_history" collection.
func (f *FirestoreProvider) InsertCycle(ctx context.Context, result types.CycleResult) error {
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle result: %w", err)
	}
	docID := result.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("cycle_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": result.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// GetCycleHistory retrieves cycle results within the specified time range.
func (f *FirestoreProvider) GetCycleHistory(ctx context.Context, start, end time.Time) ([]types.CycleResult, error) {
	coll := f.client.Collection("cycle_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var results []types.CycleResult
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating cycles: %w", err)
		}
		var r types.CycleResult
		if err := unmarshalDocJSON(doc, &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad cycle doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// unmarshalDocJSON decodes the "json" field every document in this schema
// carries.
func unmarshalDocJSON(doc *firestore.DocumentSnapshot, v interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}
