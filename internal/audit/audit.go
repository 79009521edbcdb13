// Package audit persists session lifecycle events (joins, departures,
// host migrations) to MongoDB for optional post-hoc inspection. Grounded
// on the teacher's ConnectDatabase/DBCloseCallback connection lifecycle,
// generalized from MQTT session/will-message documents to broker event
// records.
package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	dbevent "go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/collabrelay/broker/internal/config"
	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/utils"
)

// EventCollectionName is the collection session lifecycle records are
// written to.
const EventCollectionName = "session_events"

var (
	client           *mongo.Client
	database         *mongo.Database
	events           *mongo.Collection
	operationTimeout time.Duration
)

// CloseCallback disconnects the audit database as an event.Callable, run
// during graceful shutdown.
type CloseCallback struct{}

// NewCloseCallback returns a Callable that disconnects the audit client.
func NewCloseCallback() *CloseCallback {
	return &CloseCallback{}
}

func (cc *CloseCallback) Invoke(ctx context.Context) error {
	if client == nil {
		return nil
	}
	logger.InfoF("closing audit database connection")
	if operationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, operationTimeout)
		defer cancel()
	}
	return client.Disconnect(ctx)
}

// Connect dials the database described by cfg and prepares the event
// collection's indexes. Callers should check cfg.AuditEnabled() first;
// Connect does not.
func Connect(cfg config.DatabaseConfig, appName string) error {
	logger.DebugF("connecting to audit database...")

	operationTimeout = utils.ParseStringTime(cfg.OperationTimeout)

	encodedUser := url.QueryEscape(cfg.Username)
	encodedPass := url.QueryEscape(cfg.Password)
	databaseURL := fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass, cfg.Host, cfg.Port)

	clientOptions := options.Client().ApplyURI(databaseURL).SetAppName(appName)
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(cfg.ConnectIdleTimeout))
	clientOptions.SetConnectTimeout(utils.ParseStringTime(cfg.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(cfg.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(cfg.Heartbeat))
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{InsecureSkipVerify: false})
	}
	clientOptions.SetPoolMonitor(&dbevent.PoolMonitor{
		Event: func(evt *dbevent.PoolEvent) {
			switch evt.Type {
			case dbevent.ConnectionCreated:
				logger.DebugF("audit db connection created: %+v", evt)
			case dbevent.ConnectionClosed:
				logger.DebugF("audit db connection closed: %+v", evt)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("connecting to audit database: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("pinging audit database: %w", err)
	}

	database = client.Database(cfg.Database)
	events = database.Collection(EventCollectionName)

	_, err = events.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "at", Value: -1}},
		Options: options.Index().SetName("session_events_at"),
	})
	if err != nil {
		return fmt.Errorf("creating audit database indexes: %w", err)
	}

	logger.InfoF("audit database connected")
	return nil
}
