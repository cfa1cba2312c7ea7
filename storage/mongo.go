package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"support-bot/ticket"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore mirrors the SQLite layout: a tickets collection with indexed
// columns plus the JSON record, and a kv collection for state and blobs.
type MongoStore struct {
	client  *mongo.Client
	tickets *mongo.Collection
	kv      *mongo.Collection
}

type ticketDoc struct {
	ID        string    `bson:"_id"`
	ChannelID string    `bson:"channel_id"`
	UserID    string    `bson:"user_id"`
	IsOpen    bool      `bson:"is_open"`
	CreatedAt time.Time `bson:"created_at"`
	Data      string    `bson:"data"`
}

type kvDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("database.mongodb.uri and database.mongodb.database must be set to use driver=mongodb")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}

	mdb := client.Database(database)
	s := &MongoStore{
		client:  client,
		tickets: mdb.Collection("tickets"),
		kv:      mdb.Collection("kv"),
	}

	if _, err := s.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_open", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if _, err := s.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel_id", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return s, nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Ping(ctx context.Context) error { return m.client.Ping(ctx, nil) }

func newTicketDoc(t ticket.Ticket) (ticketDoc, error) {
	data, err := encodeTicket(t)
	if err != nil {
		return ticketDoc{}, err
	}
	return ticketDoc{
		ID:        t.ID,
		ChannelID: t.ChannelID,
		UserID:    t.UserID,
		IsOpen:    t.IsOpen,
		CreatedAt: t.CreatedAt.UTC(),
		Data:      string(data),
	}, nil
}

func newKVDoc(key string, v any) (kvDoc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return kvDoc{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return kvDoc{Key: key, Value: string(data), UpdatedAt: time.Now().UTC()}, nil
}

func (m *MongoStore) Upsert(ctx context.Context, t ticket.Ticket) error {
	doc, err := newTicketDoc(t)
	if err != nil {
		return err
	}
	_, err = m.tickets.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// Commit writes tickets in one ordered bulk write followed by the state
// document. Without a replica set MongoDB has no multi-document
// transactions, so a crash between the two leaves the state one step behind;
// Load tolerates that because the id counter is recomputed from records.
func (m *MongoStore) Commit(ctx context.Context, c ticket.Change) error {
	var models []mongo.WriteModel
	for _, t := range c.Tickets {
		doc, err := newTicketDoc(t)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	for _, id := range c.Deleted {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
	}
	if len(models) > 0 {
		if _, err := m.tickets.BulkWrite(ctx, models); err != nil {
			return fmt.Errorf("commit tickets: %w", err)
		}
	}
	if c.State != nil {
		return m.PutBlob(ctx, stateKey, c.State)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (ticket.Ticket, bool, error) {
	var doc ticketDoc
	err := m.tickets.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ticket.Ticket{}, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	t, err := decodeTicket([]byte(doc.Data))
	return t, err == nil, err
}

func (m *MongoStore) List(ctx context.Context) ([]ticket.Ticket, error) {
	cursor, err := m.tickets.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []ticketDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]ticket.Ticket, 0, len(docs))
	for _, doc := range docs {
		t, err := decodeTicket([]byte(doc.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *MongoStore) Load(ctx context.Context) ([]ticket.Ticket, ticket.State, error) {
	tickets, err := m.List(ctx)
	if err != nil {
		return nil, ticket.State{}, err
	}
	state := ticket.NewState()
	if _, err := m.GetBlob(ctx, stateKey, &state); err != nil {
		return nil, ticket.State{}, err
	}
	return tickets, state, nil
}

func (m *MongoStore) GetBlob(ctx context.Context, key string, v any) (bool, error) {
	var doc kvDoc
	err := m.kv.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decodeBlob([]byte(doc.Value), v)
}

func (m *MongoStore) PutBlob(ctx context.Context, key string, v any) error {
	doc, err := newKVDoc(key, v)
	if err != nil {
		return err
	}
	_, err = m.kv.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) Dump(ctx context.Context) (Dump, error) {
	var d Dump
	tickets, state, err := m.Load(ctx)
	if err != nil {
		return d, err
	}
	d.Tickets, d.State = tickets, state
	d.Blobs = make(map[string]json.RawMessage)

	cursor, err := m.kv.Find(ctx, bson.M{"_id": bson.M{"$ne": stateKey}})
	if err != nil {
		return d, err
	}
	defer cursor.Close(ctx)
	var docs []kvDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return d, err
	}
	for _, doc := range docs {
		d.Blobs[doc.Key] = json.RawMessage(doc.Value)
	}
	d.normalize()
	return d, nil
}

func (m *MongoStore) Replace(ctx context.Context, d Dump) error {
	d.normalize()
	if _, err := m.tickets.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if _, err := m.kv.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	state := d.State
	if err := m.Commit(ctx, ticket.Change{Tickets: d.Tickets, State: &state}); err != nil {
		return err
	}
	for key, raw := range d.Blobs {
		if err := m.PutBlob(ctx, key, raw); err != nil {
			return err
		}
	}
	return nil
}
