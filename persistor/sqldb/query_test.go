package sqldb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueries(t *testing.T) {
	tests := []struct {
		dialect    Dialect
		wantSelect string
		wantInsert string
	}{
		{
			dialect:    SQLite,
			wantSelect: `SELECT "Revision", "EventType", "EventData" FROM "Events" WHERE "StreamName" = ? AND "StreamId" = ? ORDER BY "Revision"`,
			wantInsert: `INSERT INTO "Events" ("StreamName", "StreamId", "Revision", "EventType", "EventData", "Timestamp") VALUES (?, ?, ?, ?, ?, ?)`,
		},
		{
			dialect:    Postgres,
			wantSelect: `SELECT "Revision", "EventType", "EventData" FROM "Events" WHERE "StreamName" = $1 AND "StreamId" = $2 ORDER BY "Revision"`,
			wantInsert: `INSERT INTO "Events" ("StreamName", "StreamId", "Revision", "EventType", "EventData", "Timestamp") VALUES ($1, $2, $3, $4, $5, $6)`,
		},
		{
			dialect:    MySQL,
			wantSelect: "SELECT `Revision`, `EventType`, `EventData` FROM `Events` WHERE `StreamName` = ? AND `StreamId` = ? ORDER BY `Revision`",
			wantInsert: "INSERT INTO `Events` (`StreamName`, `StreamId`, `Revision`, `EventType`, `EventData`, `Timestamp`) VALUES (?, ?, ?, ?, ?, ?)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			p, err := New(nil, tt.dialect)
			require.NoError(t, err)
			require.Equal(t, tt.wantSelect, p.selectQuery)
			require.Equal(t, tt.wantInsert, p.insertQuery)
		})
	}
}

func TestQueriesUseCustomTable(t *testing.T) {
	p, err := New(nil, SQLite, WithTable("BookingEvents"))
	require.NoError(t, err)
	require.Contains(t, p.selectQuery, `FROM "BookingEvents" WHERE`)
	require.Contains(t, p.insertQuery, `INSERT INTO "BookingEvents" (`)
}
