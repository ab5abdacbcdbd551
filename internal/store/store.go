// Package store reads gateway configuration snapshots from Postgres. It is
// strictly read-only; configuration writes belong to the admin service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable wraps every failure to produce a complete snapshot.
var ErrStoreUnavailable = errors.New("config store unavailable")

// Store runs read-only snapshot queries against the backing database.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool against the given DSN and pings it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool, mainly for tests.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const (
	settingsQuery = `
SELECT value FROM gateway_settings WHERE key = 'api_gateway_domain'`

	projectsQuery = `
SELECT p.id, p.name, p.slug, gc.id, COALESCE(gc.custom_domain, '')
FROM gateway_configs gc
JOIN projects p ON p.id = gc.project_id
WHERE gc.enabled`

	routesQuery = `
SELECT r.id, r.gateway_config_id, r.path_pattern, COALESCE(r.function_id, ''),
       r.allowed_methods, r.sort_order, r.created_at, r.auth_logic,
       COALESCE(r.cors_settings, '{}'::jsonb)
FROM gateway_routes r
JOIN gateway_configs gc ON gc.id = r.gateway_config_id
WHERE r.is_active AND gc.enabled`

	authMethodsQuery = `
SELECT ram.route_id, am.id, am.name, am.type, am.config
FROM route_auth_methods ram
JOIN auth_methods am ON am.id = ram.auth_method_id
JOIN gateway_routes r ON r.id = ram.route_id
JOIN gateway_configs gc ON gc.id = r.gateway_config_id
WHERE r.is_active AND gc.enabled
ORDER BY ram.route_id, ram.sort_order`
)

// LoadSnapshot reads one complete configuration snapshot inside a single
// read-only transaction. Any failure returns ErrStoreUnavailable; callers
// keep serving the previous snapshot.
func (s *Store) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	defaultDomain, err := s.loadDefaultDomain(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrStoreUnavailable, err)
	}

	projects, err := s.loadProjects(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: projects: %v", ErrStoreUnavailable, err)
	}

	routesByConfig, routeIndex, err := s.loadRoutes(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: routes: %v", ErrStoreUnavailable, err)
	}

	if err := s.loadAuthMethods(ctx, tx, routeIndex); err != nil {
		return nil, fmt.Errorf("%w: auth methods: %v", ErrStoreUnavailable, err)
	}

	for i := range projects {
		p := &projects[i]
		p.Routes = routesByConfig[p.ConfigID]
		sortRoutes(p.Routes)
	}

	return &Snapshot{
		DefaultDomain: defaultDomain,
		Projects:      projects,
		LoadedAt:      time.Now(),
	}, nil
}

func (s *Store) loadDefaultDomain(ctx context.Context, tx pgx.Tx) (string, error) {
	var domain string
	err := tx.QueryRow(ctx, settingsQuery).Scan(&domain)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return domain, err
}

func (s *Store) loadProjects(ctx context.Context, tx pgx.Tx) ([]ProjectRecord, error) {
	rows, err := tx.Query(ctx, projectsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []ProjectRecord
	for rows.Next() {
		var p ProjectRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.ConfigID, &p.CustomDomain); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) loadRoutes(ctx context.Context, tx pgx.Tx) (map[string][]RouteRecord, map[string]*RouteRecord, error) {
	rows, err := tx.Query(ctx, routesQuery)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byConfig := make(map[string][]RouteRecord)
	type placement struct {
		configID string
		index    int
	}
	placements := make(map[string]placement)

	for rows.Next() {
		var (
			r        RouteRecord
			configID string
			corsDoc  []byte
		)
		if err := rows.Scan(&r.ID, &configID, &r.PathPattern, &r.FunctionID,
			&r.AllowedMethods, &r.SortOrder, &r.CreatedAt, &r.AuthLogic, &corsDoc); err != nil {
			return nil, nil, err
		}
		if len(corsDoc) > 0 {
			if err := json.Unmarshal(corsDoc, &r.CORS); err != nil {
				return nil, nil, fmt.Errorf("route %s cors_settings: %w", r.ID, err)
			}
		}
		byConfig[configID] = append(byConfig[configID], r)
		placements[r.ID] = placement{configID: configID, index: len(byConfig[configID]) - 1}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	index := make(map[string]*RouteRecord, len(placements))
	for id, pl := range placements {
		index[id] = &byConfig[pl.configID][pl.index]
	}
	return byConfig, index, nil
}

func (s *Store) loadAuthMethods(ctx context.Context, tx pgx.Tx, routes map[string]*RouteRecord) error {
	rows, err := tx.Query(ctx, authMethodsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			routeID string
			am      AuthMethodRecord
		)
		if err := rows.Scan(&routeID, &am.ID, &am.Name, &am.Type, &am.Config); err != nil {
			return err
		}
		if route, ok := routes[routeID]; ok {
			route.AuthMethods = append(route.AuthMethods, am)
		}
	}
	return rows.Err()
}

// sortRoutes orders routes by sort_order ascending with creation time and id
// as deterministic tie-breaks.
func sortRoutes(routes []RouteRecord) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].SortOrder != routes[j].SortOrder {
			return routes[i].SortOrder < routes[j].SortOrder
		}
		if !routes[i].CreatedAt.Equal(routes[j].CreatedAt) {
			return routes[i].CreatedAt.Before(routes[j].CreatedAt)
		}
		return routes[i].ID < routes[j].ID
	})
}
