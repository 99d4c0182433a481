package config

type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
	StoreSQLite StoreKind = "sqlite"
)

type StoreConfig interface {
	GetSessionStore() StoreKind
	GetRedisAddr() string
	GetRedisKey() string
	GetSQLitePath() string
}

type Store struct {
	Kind       string `env:"SESSION_STORE" envDefault:"memory"`
	RedisAddr  string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisKey   string `env:"REDIS_SESSION_KEY" envDefault:"authpipeline:session"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"./data/session.db"`
}

var _ StoreConfig = Store{}

func (s Store) GetSessionStore() StoreKind {
	switch StoreKind(s.Kind) {
	case StoreRedis:
		return StoreRedis
	case StoreSQLite:
		return StoreSQLite
	}
	return StoreMemory
}

func (s Store) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Store) GetRedisKey() string {
	return s.RedisKey
}

func (s Store) GetSQLitePath() string {
	return s.SQLitePath
}
