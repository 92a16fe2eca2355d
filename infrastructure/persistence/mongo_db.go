package persistence

import (
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewMongoDb connects the analytics store. Callers treat a nil client as
// "analytics disabled" and keep the rest of the engine running.
func NewMongoDb(uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, nil
	}
	return mongo.Connect(options.Client().ApplyURI(uri))
}
