package cli

import (
	"context"
	"log/slog"

	"github.com/shaiso/Harvester/internal/bootstrap"
	"github.com/shaiso/Harvester/internal/config"
	"github.com/shaiso/Harvester/internal/mq"
	"github.com/shaiso/Harvester/internal/orchestrator"
)

// Local — зависимости команд, работающих без daemon'а.
// Ресурсы открываются лениво: checkpoint show не требует БД.
type Local struct {
	Env    *config.Env
	Logger *slog.Logger

	providers *config.Providers
	stores    *bootstrap.Stores
	db        *bootstrap.Database
	conn      *mq.Connection
}

// OpenLocal читает конфигурацию окружения.
func OpenLocal(logger *slog.Logger) (*Local, error) {
	env, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{Env: env, Logger: logger}, nil
}

// Providers читает файл provider'ов.
func (l *Local) Providers() (*config.Providers, error) {
	if l.providers == nil {
		ps, err := config.LoadProviders(l.Env.ProvidersFile)
		if err != nil {
			return nil, err
		}
		l.providers = ps
	}
	return l.providers, nil
}

// Stores открывает object storage.
func (l *Local) Stores(ctx context.Context) (*bootstrap.Stores, error) {
	if l.stores == nil {
		s, err := bootstrap.OpenStores(ctx, l.Env, l.Logger)
		if err != nil {
			return nil, err
		}
		l.stores = s
	}
	return l.stores, nil
}

// Database подключается к PostgreSQL.
func (l *Local) Database(ctx context.Context) (*bootstrap.Database, error) {
	if l.db == nil {
		db, err := bootstrap.OpenDatabase(ctx, l.Env.DBURL)
		if err != nil {
			return nil, err
		}
		l.db = db
	}
	return l.db, nil
}

// Notifier возвращает publisher unit.completed, если RabbitMQ настроен и доступен.
// Без RabbitMQ run идёт без уведомлений.
func (l *Local) Notifier() orchestrator.Notifier {
	if l.Env.RabbitURL == "" {
		return nil
	}
	if l.conn == nil {
		conn, err := mq.NewConnection(l.Env.RabbitURL, l.Logger)
		if err != nil {
			l.Logger.Warn("RabbitMQ not available, completion events disabled", "error", err)
			return nil
		}
		l.conn = conn
	}
	return mq.NewPublisher(l.conn, l.Logger)
}

// Close закрывает открытые ресурсы.
func (l *Local) Close() {
	if l.conn != nil {
		l.conn.Close()
	}
	if l.db != nil {
		l.db.Close()
	}
	if l.stores != nil {
		l.stores.Close()
	}
}
