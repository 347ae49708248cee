package serverdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/go-lobby/cacher"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// PlayerRecord is the cached form of a stored player.
type PlayerRecord struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	Blob []byte `json:"blob"`
}

type job struct {
	name string
	run  func(ctx context.Context) error
	fail func()
}

// RedisDB implements ServerDB on Redis. Requests are processed one at a time
// by a worker goroutine in submission order.
//
// Key layout under the prefix P:
//
//	P:player:next_id            counter
//	P:player:name:<name>        player id
//	P:player:<id>               hash: name, blob, online, last_login
//	P:game:next_id              counter
//	P:game:<id>                 hash: name, created, ended
//	P:game:<id>:places          hash: player id -> place
type RedisDB struct {
	client     redis.UniversalClient
	ownsClient bool
	log        logger.Logger

	cfg     Config
	key     []byte
	players cacher.Cacher[PlayerRecord]

	cbMu    sync.RWMutex
	loginCB LoginCallback
	gameCB  GameCallback

	mu       sync.Mutex
	jobs     chan job
	done     chan struct{}
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// NewRedisDB creates a database on client. When client is nil, Init dials
// Config.Addr and Stop closes that connection.
//
// Parameters:
//   - client: An existing Redis client, or nil
//   - log: Logger; nil discards output
//
// Returns:
//   - A RedisDB that still needs Init and Start
func NewRedisDB(client redis.UniversalClient, log logger.Logger) *RedisDB {
	return &RedisDB{
		client: client,
		log:    logger.OrNop(log).With(logger.Field{Key: "component", Value: "serverdb"}),
	}
}

// Init implements ServerDB.
func (d *RedisDB) Init(cfg Config) error {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = def.CacheBackend
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	if cfg.EncryptionKey == "" {
		return ErrNoEncryptionKey
	}

	if d.client == nil {
		d.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		d.ownsClient = true
	}

	switch cfg.CacheBackend {
	case CacheMemory:
		d.players = cacher.NewMemoryCacher[PlayerRecord](cfg.CacheTTL, 2*cfg.CacheTTL)
	case CacheRedis:
		d.players = cacher.NewRedisCacher[PlayerRecord](d.client, cfg.KeyPrefix+":cache:player")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCache, cfg.CacheBackend)
	}

	d.cfg = cfg
	d.key = []byte(cfg.EncryptionKey)
	d.jobs = make(chan job, cfg.QueueSize)
	d.done = make(chan struct{})
	return nil
}

// SetCallbacks implements ServerDB.
func (d *RedisDB) SetCallbacks(login LoginCallback, game GameCallback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.loginCB = login
	d.gameCB = game
}

// Start implements ServerDB. It checks the connection and starts the worker.
func (d *RedisDB) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.jobs == nil {
		return ErrNotInitialized
	}
	if d.stopped {
		return ErrStopped
	}
	if d.running {
		return ErrAlreadyStarted
	}

	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("serverdb: ping: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, workerCtx := errgroup.WithContext(workerCtx)
	group.Go(func() error {
		return d.worker(workerCtx)
	})

	d.cancel = cancel
	d.group = group
	d.running = true
	d.log.Info("database started", logger.Field{Key: "prefix", Value: d.cfg.KeyPrefix})
	return nil
}

// Stop implements ServerDB. Queued jobs that did not run have their failure
// callbacks invoked. Later calls do nothing.
func (d *RedisDB) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		if d.done != nil {
			close(d.done)
		}

		d.mu.Lock()
		d.running = false
		d.stopped = true
		cancel, group := d.cancel, d.group
		d.mu.Unlock()

		if cancel != nil {
			cancel()
			err = group.Wait()
		}

		d.drain()

		if d.ownsClient {
			if cerr := d.client.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}

		d.log.Info("database stopped")
	})

	return err
}

func (d *RedisDB) drain() {
	if d.jobs == nil {
		return
	}

	for {
		select {
		case j := <-d.jobs:
			d.log.Warn("request dropped at shutdown", logger.Field{Key: "request", Value: j.name})
			if j.fail != nil {
				j.fail()
			}
		default:
			return
		}
	}
}

func (d *RedisDB) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-d.jobs:
			if err := j.run(ctx); err != nil {
				d.log.Warn("request failed", logger.Field{Key: "request", Value: j.name}, logger.Err(err))
				if j.fail != nil {
					j.fail()
				}
			}
		}
	}
}

func (d *RedisDB) submit(j job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		d.log.Warn("request rejected, database not running", logger.Field{Key: "request", Value: j.name})
		if j.fail != nil {
			j.fail()
		}
		return
	}

	select {
	case d.jobs <- j:
	case <-d.done:
		if j.fail != nil {
			j.fail()
		}
	}
}

func (d *RedisDB) callbacks() (LoginCallback, GameCallback) {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	return d.loginCB, d.gameCB
}

// AsyncPlayerLogin implements ServerDB. The outcome is delivered to the
// LoginCallback from the worker goroutine.
func (d *RedisDB) AsyncPlayerLogin(requestID uint32, playerName string) {
	d.submit(job{
		name: "player_login",
		run: func(ctx context.Context) error {
			playerID, password, err := d.PlayerLogin(ctx, playerName)
			if err != nil {
				return err
			}

			if cb, _ := d.callbacks(); cb != nil {
				cb.PlayerLoginSuccess(requestID, playerID, password)
			}
			return nil
		},
		fail: func() {
			if cb, _ := d.callbacks(); cb != nil {
				cb.PlayerLoginFailed(requestID)
			}
		},
	})
}

// PlayerLogout implements ServerDB.
func (d *RedisDB) PlayerLogout(playerID uint32) {
	d.submit(job{
		name: "player_logout",
		run: func(ctx context.Context) error {
			return d.client.HSet(ctx, d.playerKey(playerID), "online", 0).Err()
		},
	})
}

// AsyncCreateGame implements ServerDB.
func (d *RedisDB) AsyncCreateGame(requestID uint32, gameName string) {
	d.submit(job{
		name: "create_game",
		run: func(ctx context.Context) error {
			gameID, err := d.CreateGame(ctx, gameName)
			if err != nil {
				return err
			}

			if _, cb := d.callbacks(); cb != nil {
				cb.CreateGameSuccess(requestID, gameID)
			}
			return nil
		},
		fail: func() {
			if _, cb := d.callbacks(); cb != nil {
				cb.CreateGameFailed(requestID)
			}
		},
	})
}

// SetGamePlayerPlace implements ServerDB.
func (d *RedisDB) SetGamePlayerPlace(gameID, playerID uint32, place uint) {
	d.submit(job{
		name: "set_game_player_place",
		run: func(ctx context.Context) error {
			field := strconv.FormatUint(uint64(playerID), 10)
			return d.client.HSet(ctx, d.gameKey(gameID)+":places", field, place).Err()
		},
	})
}

// EndGame implements ServerDB.
func (d *RedisDB) EndGame(gameID uint32) {
	d.submit(job{
		name: "end_game",
		run: func(ctx context.Context) error {
			return d.client.HSet(ctx, d.gameKey(gameID), "ended", time.Now().Unix()).Err()
		},
	})
}

// CreatePlayer registers a player with an encrypted credential blob.
//
// Parameters:
//   - ctx: Context for the Redis calls
//   - name: Player name; must be non-empty and contain no ':' or whitespace
//   - password: The password; must be non-empty
//
// Returns:
//   - The new player id
//   - ErrNotInitialized, ErrInvalidName, ErrEmptyPassword, ErrPlayerExists or a Redis error
func (d *RedisDB) CreatePlayer(ctx context.Context, name, password string) (uint32, error) {
	if d.key == nil {
		return 0, ErrNotInitialized
	}
	if !validName(name) {
		return 0, ErrInvalidName
	}
	if password == "" {
		return 0, ErrEmptyPassword
	}

	blob, err := sealCredentials(d.key, name, password)
	if err != nil {
		return 0, err
	}

	next, err := d.client.Incr(ctx, d.cfg.KeyPrefix+":player:next_id").Result()
	if err != nil {
		return 0, fmt.Errorf("serverdb: allocate player id: %w", err)
	}
	playerID := uint32(next)

	claimed, err := d.client.SetNX(ctx, d.nameKey(name), playerID, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("serverdb: claim player name: %w", err)
	}
	if !claimed {
		return 0, fmt.Errorf("%w: %s", ErrPlayerExists, name)
	}

	err = d.client.HSet(ctx, d.playerKey(playerID), map[string]any{
		"name":   name,
		"blob":   blob,
		"online": 0,
	}).Err()
	if err != nil {
		return 0, fmt.Errorf("serverdb: store player: %w", err)
	}

	_ = d.players.Delete(ctx, name)
	d.log.Info("player created", logger.Field{Key: "player", Value: playerID}, logger.Field{Key: "name", Value: name})
	return playerID, nil
}

// PlayerLogin looks a player up, decrypts the stored password and marks the
// player online. AsyncPlayerLogin runs it on the worker.
//
// Returns:
//   - The player id and password
//   - ErrPlayerNotFound, ErrCorruptRecord or a Redis error
func (d *RedisDB) PlayerLogin(ctx context.Context, name string) (uint32, string, error) {
	if d.key == nil {
		return 0, "", ErrNotInitialized
	}

	rec, err := d.players.GetOrFetch(ctx, name, d.cfg.CacheTTL, func(ctx context.Context) (PlayerRecord, error) {
		return d.loadPlayer(ctx, name)
	})
	if err != nil {
		return 0, "", err
	}

	password, err := openCredentials(d.key, rec.Blob, name)
	if err != nil {
		_ = d.players.Delete(ctx, name)
		return 0, "", err
	}

	err = d.client.HSet(ctx, d.playerKey(rec.ID), map[string]any{
		"online":     1,
		"last_login": time.Now().Unix(),
	}).Err()
	if err != nil {
		return 0, "", fmt.Errorf("serverdb: mark online: %w", err)
	}

	return rec.ID, password, nil
}

// CreateGame stores a new game and returns its id.
func (d *RedisDB) CreateGame(ctx context.Context, name string) (uint32, error) {
	next, err := d.client.Incr(ctx, d.cfg.KeyPrefix+":game:next_id").Result()
	if err != nil {
		return 0, fmt.Errorf("serverdb: allocate game id: %w", err)
	}

	gameID := uint32(next)
	err = d.client.HSet(ctx, d.gameKey(gameID), map[string]any{
		"name":    name,
		"created": time.Now().Unix(),
	}).Err()
	if err != nil {
		return 0, fmt.Errorf("serverdb: store game: %w", err)
	}

	return gameID, nil
}

func (d *RedisDB) loadPlayer(ctx context.Context, name string) (PlayerRecord, error) {
	id, err := d.client.Get(ctx, d.nameKey(name)).Uint64()
	if errors.Is(err, redis.Nil) {
		return PlayerRecord{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, name)
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("serverdb: lookup player: %w", err)
	}

	blob, err := d.client.HGet(ctx, d.playerKey(uint32(id)), "blob").Bytes()
	if errors.Is(err, redis.Nil) {
		return PlayerRecord{}, fmt.Errorf("%w: %s has no credentials", ErrCorruptRecord, name)
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("serverdb: load player: %w", err)
	}

	return PlayerRecord{ID: uint32(id), Name: name, Blob: blob}, nil
}

func (d *RedisDB) nameKey(name string) string {
	return d.cfg.KeyPrefix + ":player:name:" + name
}

func (d *RedisDB) playerKey(id uint32) string {
	return d.cfg.KeyPrefix + ":player:" + strconv.FormatUint(uint64(id), 10)
}

func (d *RedisDB) gameKey(id uint32) string {
	return d.cfg.KeyPrefix + ":game:" + strconv.FormatUint(uint64(id), 10)
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ": \t\r\n")
}
