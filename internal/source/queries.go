// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package source

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/filmindex/internal/models"
)

// tables maps each stream to the table its changes are detected on.
var tables = map[models.Stream]string{
	models.StreamFilm:   "film_work",
	models.StreamPerson: "person",
	models.StreamGenre:  "genre",
}

// fanoutLinks maps a related stream to its association table and the
// column referencing the related entity.
var fanoutLinks = map[models.Stream]struct{ table, column string }{
	models.StreamPerson: {"person_film_work", "person_id"},
	models.StreamGenre:  {"genre_film_work", "genre_id"},
}

// queries holds the SQL text for one schema, rendered once.
type queries struct {
	detect   map[models.Stream]string
	detectAt map[models.Stream]string
	fanout   map[models.Stream]string
	details  string
}

func buildQueries(schema string) queries {
	ident := func(table string) string {
		return pgx.Identifier{schema, table}.Sanitize()
	}

	q := queries{
		detect:   make(map[models.Stream]string, len(tables)),
		detectAt: make(map[models.Stream]string, len(tables)),
		fanout:   make(map[models.Stream]string, len(fanoutLinks)),
	}

	for stream, table := range tables {
		q.detect[stream] = fmt.Sprintf(`
SELECT id, updated_at
FROM %s
WHERE updated_at > $1
ORDER BY updated_at, id
LIMIT $2`, ident(table))
		q.detectAt[stream] = fmt.Sprintf(`
SELECT id, updated_at
FROM %s
WHERE updated_at = $1
ORDER BY id`, ident(table))
	}

	for stream, link := range fanoutLinks {
		q.fanout[stream] = fmt.Sprintf(`
SELECT DISTINCT fw.id, fw.updated_at
FROM %s fw
JOIN %s link ON link.film_work_id = fw.id
WHERE link.%s = ANY($1::uuid[])
ORDER BY fw.updated_at, fw.id
LIMIT $2 OFFSET $3`, ident("film_work"), ident(link.table), pgx.Identifier{link.column}.Sanitize())
	}

	q.details = fmt.Sprintf(`
SELECT
    fw.id,
    fw.title,
    fw.description,
    fw.rating,
    fw.type,
    fw.created_at,
    fw.updated_at,
    pfw.role,
    p.id,
    p.full_name,
    g.name
FROM %s fw
LEFT JOIN %s pfw ON pfw.film_work_id = fw.id
LEFT JOIN %s p ON p.id = pfw.person_id
LEFT JOIN %s gfw ON gfw.film_work_id = fw.id
LEFT JOIN %s g ON g.id = gfw.genre_id
WHERE fw.id = ANY($1::uuid[])
ORDER BY fw.updated_at, fw.id`,
		ident("film_work"), ident("person_film_work"), ident("person"),
		ident("genre_film_work"), ident("genre"))

	return q
}
