// Command migrate creates the keyspace and tables the services expect.
// Run it once against a fresh cluster, or with -drop to start over.
package main

import (
	"flag"
	"log"

	"github.com/gocql/gocql"

	"github.com/rmehta/coursetalk/pkg/config"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		kind text,
		title text,
		course_id text,
		is_active boolean,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		conversation_id text,
		user_id text,
		role text,
		is_active boolean,
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		role text,
		is_active boolean,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		sender_role text,
		content text,
		attachments text,
		read_by set<text>,
		edited boolean,
		edited_at timestamp,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS private_pairs (
		pair_key text PRIMARY KEY,
		conversation_id text
	)`,
	`CREATE TABLE IF NOT EXISTS discussion_groups (
		course_id text PRIMARY KEY,
		group_id text,
		conversation_id text,
		is_active boolean
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		group_id text,
		user_id text,
		role text,
		is_active boolean,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		course_id text,
		user_id text,
		role text,
		is_active boolean,
		PRIMARY KEY (course_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments_by_user (
		user_id text,
		course_id text,
		role text,
		is_active boolean,
		PRIMARY KEY (user_id, course_id)
	)`,
}

func main() {
	drop := flag.Bool("drop", false, "drop the keyspace before creating it")
	flag.Parse()

	cfg := config.Load()

	// Connect without a keyspace first so we can create it.
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Consistency = gocql.Quorum
	sysSession, err := cluster.CreateSession()
	if err != nil {
		log.Fatal("connecting to cluster:", err)
	}

	if *drop {
		log.Printf("Dropping keyspace %s...", cfg.Keyspace)
		if err := sysSession.Query(`DROP KEYSPACE IF EXISTS ` + cfg.Keyspace).Exec(); err != nil {
			log.Fatal("dropping keyspace:", err)
		}
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + cfg.Keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatal("creating keyspace:", err)
	}
	sysSession.Close()

	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		log.Fatal("connecting to keyspace:", err)
	}
	defer session.Close()

	for _, ddl := range tables {
		if err := session.Query(ddl).Exec(); err != nil {
			log.Fatalf("creating table: %v\n%s", err, ddl)
		}
	}
	log.Printf("Keyspace %s ready (%d tables)", cfg.Keyspace, len(tables))
}
