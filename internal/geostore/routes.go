package geostore

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sells-group/shelter-access/internal/model"
)

// RouteStore holds raw per-block-group route documents.
type RouteStore struct {
	coll *mongo.Collection
}

// NewRouteStore uses the given database and collection of client.
func NewRouteStore(client *mongo.Client, database, collection string) *RouteStore {
	return &RouteStore{coll: client.Database(database).Collection(collection)}
}

// Insert stores one route record. Reruns append; nothing is deduplicated.
func (r *RouteStore) Insert(ctx context.Context, rec model.RouteRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "geostore: encode route record")
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return eris.Wrap(err, "geostore: convert route record")
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return eris.Wrapf(err, "geostore: insert route record %s", rec.BlockGroup.GEOID)
	}
	return nil
}

// Export writes every stored document as one line of relaxed extended JSON,
// the format of a mongoexport dump. It returns the number of documents.
func (r *RouteStore) Export(ctx context.Context, w io.Writer) (int, error) {
	cursor, err := r.coll.Find(ctx, bson.D{})
	if err != nil {
		return 0, eris.Wrap(err, "geostore: find route records")
	}
	defer cursor.Close(ctx) //nolint:errcheck

	bw := bufio.NewWriter(w)
	var n int
	for cursor.Next(ctx) {
		line, err := bson.MarshalExtJSON(cursor.Current, false, false)
		if err != nil {
			return n, eris.Wrap(err, "geostore: encode route record")
		}
		if _, err := bw.Write(append(line, '\n')); err != nil {
			return n, eris.Wrap(err, "geostore: write route record")
		}
		n++
	}
	if err := cursor.Err(); err != nil {
		return n, eris.Wrap(err, "geostore: iterate route records")
	}
	return n, eris.Wrap(bw.Flush(), "geostore: flush export")
}
