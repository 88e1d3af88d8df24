// Package persistence stores world state in SQLite and the
// accepted-intention log in a compressed JSONL file. The database is
// the resume path; the tick log is the replay path.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ellory/everworld/internal/economy"
	"github.com/ellory/everworld/internal/memory"
	"github.com/ellory/everworld/internal/world"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		health REAL NOT NULL,
		energy REAL NOT NULL,
		reputation REAL NOT NULL,
		wealth INTEGER NOT NULL,
		goal TEXT NOT NULL,
		suspended INTEGER NOT NULL,
		inventory_json TEXT NOT NULL,
		relationships_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		agent INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		content TEXT NOT NULL,
		importance REAL NOT NULL,
		embedding_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skills (
		agent INTEGER NOT NULL,
		name TEXT NOT NULL,
		success_rate REAL NOT NULL,
		uses INTEGER NOT NULL,
		builtin INTEGER NOT NULL,
		body_json TEXT NOT NULL,
		PRIMARY KEY (agent, name)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		proposer INTEGER NOT NULL,
		counterparty INTEGER NOT NULL,
		offer_coins INTEGER NOT NULL,
		request_coins INTEGER NOT NULL,
		status TEXT NOT NULL,
		proposed_tick INTEGER NOT NULL,
		expires_tick INTEGER NOT NULL,
		resolved_tick INTEGER NOT NULL,
		offer_json TEXT NOT NULL,
		request_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ticks (
		tick INTEGER PRIMARY KEY,
		digest TEXT NOT NULL,
		accepted_json TEXT NOT NULL,
		skill_commits_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		agent INTEGER NOT NULL,
		message TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent, seq);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// AgentRow is the persisted shape of one agent: the world's physical
// state plus the lifecycle's goal and relationships.
type AgentRow struct {
	State         world.AgentState
	Wealth        uint64
	Goal          string
	Suspended     bool
	Relationships json.RawMessage
}

// SaveAgents writes all agents to the database (full replace).
func (db *DB) SaveAgents(rows []AgentRow) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, name, pos_q, pos_r, health, energy, reputation, wealth,
		 goal, suspended, inventory_json, relationships_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		a := row.State
		invJSON, _ := json.Marshal(a.Inventory)
		rels := row.Relationships
		if rels == nil {
			rels = json.RawMessage("{}")
		}
		suspended := 0
		if row.Suspended {
			suspended = 1
		}
		_, err := stmt.Exec(
			a.ID, a.Name, a.Pos.Q, a.Pos.R,
			a.Vitals.Health, a.Vitals.Energy, a.Reputation, row.Wealth,
			row.Goal, suspended, string(invJSON), string(rels),
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAgents reads every persisted agent.
func (db *DB) LoadAgents() ([]AgentRow, error) {
	type rec struct {
		ID         uint64  `db:"id"`
		Name       string  `db:"name"`
		PosQ       int     `db:"pos_q"`
		PosR       int     `db:"pos_r"`
		Health     float32 `db:"health"`
		Energy     float32 `db:"energy"`
		Reputation float32 `db:"reputation"`
		Wealth     uint64  `db:"wealth"`
		Goal       string  `db:"goal"`
		Suspended  int     `db:"suspended"`
		Inventory  string  `db:"inventory_json"`
		Rels       string  `db:"relationships_json"`
	}
	var recs []rec
	if err := db.conn.Select(&recs, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	rows := make([]AgentRow, 0, len(recs))
	for _, r := range recs {
		inv := make(map[string]int)
		if err := json.Unmarshal([]byte(r.Inventory), &inv); err != nil {
			return nil, fmt.Errorf("agent %d inventory: %w", r.ID, err)
		}
		rows = append(rows, AgentRow{
			State: world.AgentState{
				ID:         world.AgentID(r.ID),
				Name:       r.Name,
				Pos:        world.HexCoord{Q: r.PosQ, R: r.PosR},
				Inventory:  inv,
				Vitals:     world.Vitals{Health: r.Health, Energy: r.Energy},
				Reputation: r.Reputation,
			},
			Wealth:        r.Wealth,
			Goal:          r.Goal,
			Suspended:     r.Suspended != 0,
			Relationships: json.RawMessage(r.Rels),
		})
	}
	return rows, nil
}

// AppendMemory implements memory.Backend: one insert per record, the
// table is append-only like the store.
func (db *DB) AppendMemory(rec memory.Record) error {
	embJSON, _ := json.Marshal(rec.Embedding)
	_, err := db.conn.Exec(`INSERT INTO memories
		(id, agent, seq, tick, content, importance, embedding_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Agent, rec.Seq, rec.Tick, rec.Content, rec.Importance, string(embJSON))
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", rec.ID, err)
	}
	return nil
}

// LoadMemories reads the full memory table, oldest first per agent.
func (db *DB) LoadMemories() ([]memory.Record, error) {
	type rec struct {
		ID         string  `db:"id"`
		Agent      uint64  `db:"agent"`
		Seq        uint64  `db:"seq"`
		Tick       uint64  `db:"tick"`
		Content    string  `db:"content"`
		Importance float32 `db:"importance"`
		Embedding  string  `db:"embedding_json"`
	}
	var recs []rec
	if err := db.conn.Select(&recs, "SELECT * FROM memories ORDER BY agent, seq"); err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	out := make([]memory.Record, 0, len(recs))
	for _, r := range recs {
		var emb []float32
		if err := json.Unmarshal([]byte(r.Embedding), &emb); err != nil {
			return nil, fmt.Errorf("memory %s embedding: %w", r.ID, err)
		}
		out = append(out, memory.Record{
			ID: r.ID, Agent: r.Agent, Seq: r.Seq, Tick: r.Tick,
			Content: r.Content, Importance: r.Importance, Embedding: emb,
		})
	}
	return out, nil
}

// SkillRow is the persisted shape of one committed skill.
type SkillRow struct {
	Agent       uint64
	Name        string
	SuccessRate float32
	Uses        int
	Builtin     bool
	Body        json.RawMessage
}

// SaveSkills writes all skills (full replace).
func (db *DB) SaveSkills(rows []SkillRow) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM skills"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO skills
		(agent, name, success_rate, uses, builtin, body_json)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		builtin := 0
		if row.Builtin {
			builtin = 1
		}
		if _, err := stmt.Exec(row.Agent, row.Name, row.SuccessRate, row.Uses, builtin, string(row.Body)); err != nil {
			return fmt.Errorf("insert skill %d/%s: %w", row.Agent, row.Name, err)
		}
	}
	return tx.Commit()
}

// LoadSkills reads every persisted skill, ordered by agent then name.
func (db *DB) LoadSkills() ([]SkillRow, error) {
	type rec struct {
		Agent       uint64  `db:"agent"`
		Name        string  `db:"name"`
		SuccessRate float32 `db:"success_rate"`
		Uses        int     `db:"uses"`
		Builtin     int     `db:"builtin"`
		Body        string  `db:"body_json"`
	}
	var recs []rec
	if err := db.conn.Select(&recs, "SELECT * FROM skills ORDER BY agent, name"); err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	rows := make([]SkillRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, SkillRow{
			Agent:       r.Agent,
			Name:        r.Name,
			SuccessRate: r.SuccessRate,
			Uses:        r.Uses,
			Builtin:     r.Builtin != 0,
			Body:        json.RawMessage(r.Body),
		})
	}
	return rows, nil
}

// SaveTrades writes the trade book (full replace).
func (db *DB) SaveTrades(trades []economy.Trade) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM trades"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO trades
		(id, proposer, counterparty, offer_coins, request_coins, status,
		 proposed_tick, expires_tick, resolved_tick, offer_json, request_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		offerJSON, _ := json.Marshal(t.Offer)
		requestJSON, _ := json.Marshal(t.Request)
		_, err := stmt.Exec(
			t.ID, t.Proposer, t.Counterparty, t.OfferCoins, t.RequestCoins,
			string(t.Status), t.ProposedTick, t.ExpiresTick, t.ResolvedTick,
			string(offerJSON), string(requestJSON),
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// WriteTick implements world.TickLogger: one row per committed tick.
func (db *DB) WriteTick(rec world.TickRecord) error {
	acceptedJSON, _ := json.Marshal(rec.Accepted)
	commitsJSON, _ := json.Marshal(rec.SkillCommits)
	_, err := db.conn.Exec(`INSERT INTO ticks (tick, digest, accepted_json, skill_commits_json)
		VALUES (?, ?, ?, ?)`,
		rec.Tick, rec.Digest, string(acceptedJSON), string(commitsJSON))
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", rec.Tick, err)
	}
	return nil
}

// LoadTicks reads the accepted-intention log in tick order.
func (db *DB) LoadTicks() ([]world.TickRecord, error) {
	type rec struct {
		Tick     uint64 `db:"tick"`
		Digest   string `db:"digest"`
		Accepted string `db:"accepted_json"`
		Commits  string `db:"skill_commits_json"`
	}
	var recs []rec
	if err := db.conn.Select(&recs, "SELECT * FROM ticks ORDER BY tick"); err != nil {
		return nil, fmt.Errorf("load ticks: %w", err)
	}
	out := make([]world.TickRecord, 0, len(recs))
	for _, r := range recs {
		tr := world.TickRecord{Tick: r.Tick, Digest: r.Digest}
		if err := json.Unmarshal([]byte(r.Accepted), &tr.Accepted); err != nil {
			return nil, fmt.Errorf("tick %d accepted: %w", r.Tick, err)
		}
		if err := json.Unmarshal([]byte(r.Commits), &tr.SkillCommits); err != nil {
			return nil, fmt.Errorf("tick %d commits: %w", r.Tick, err)
		}
		out = append(out, tr)
	}
	return out, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []world.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, kind, agent, message) VALUES (?, ?, ?, ?)",
			e.Tick, e.Kind, e.Agent, e.Message,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// Snapshot is everything a full save carries.
type Snapshot struct {
	Tick   uint64
	Seed   int64
	Agents []AgentRow
	Skills []SkillRow
	Trades []economy.Trade
	Events []world.Event
}

// SaveWorldState performs a full save.
func (db *DB) SaveWorldState(s Snapshot) error {
	slog.Info("saving world state", "tick", s.Tick, "agents", len(s.Agents))

	if err := db.SaveAgents(s.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveSkills(s.Skills); err != nil {
		return fmt.Errorf("save skills: %w", err)
	}
	if err := db.SaveTrades(s.Trades); err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	if err := db.SaveEvents(s.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveMeta("last_tick", fmt.Sprintf("%d", s.Tick)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta("seed", fmt.Sprintf("%d", s.Seed)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("world state saved")
	return nil
}

// RecentEvents returns the most recent N events.
func (db *DB) RecentEvents(limit int) ([]world.Event, error) {
	type rec struct {
		Tick    uint64 `db:"tick"`
		Kind    string `db:"kind"`
		Agent   uint64 `db:"agent"`
		Message string `db:"message"`
	}
	var recs []rec
	err := db.conn.Select(&recs,
		"SELECT tick, kind, agent, message FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]world.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, world.Event{Tick: r.Tick, Kind: r.Kind, Agent: world.AgentID(r.Agent), Message: r.Message})
	}
	return out, nil
}
