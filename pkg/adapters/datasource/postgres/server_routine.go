package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// ServerRoutineSignature is the column definition list callers attach to the routine.
const ServerRoutineSignature = "totalrowcount bigint, zcount bigint, hz numeric, sum_surprise numeric, stddev_surprise numeric"

// serverRoutineSQL computes, inside the database, what a client run computes
// locally: row count, alphabet size, entropy, summed surprise over distinct
// symbols and the population stddev of that surprise. Arguments are a table or
// derived table, a WHERE predicate and the composite symbol expression.
const serverRoutineSQL = `CREATE OR REPLACE FUNCTION %s(tbl text, cond text, sym text)
RETURNS SETOF record AS $entropy$
BEGIN
	RETURN QUERY EXECUTE format(
		'WITH z AS (SELECT %%s AS s, COUNT(*) AS c FROM %%s WHERE %%s GROUP BY 1),
		      t AS (SELECT SUM(c) AS n, COUNT(*) AS k FROM z),
		      p AS (SELECT z.c::numeric / t.n AS prob FROM z, t)
		 SELECT t.n::bigint,
		        t.k::bigint,
		        (SELECT -SUM(prob * log(2, prob)) FROM p)::numeric,
		        (SELECT SUM(-log(2, prob)) FROM p)::numeric,
		        (SELECT stddev_pop(-log(2, prob)) FROM p)::numeric
		 FROM t', sym, tbl, cond);
END
$entropy$ LANGUAGE plpgsql`

// ServerRoutineDDL renders the CREATE statement for the routine name.
func ServerRoutineDDL(name string) string {
	return fmt.Sprintf(serverRoutineSQL, sqlutil.PostgresDialect{}.QuoteTable(name))
}

// EnsureServerRoutine installs (or replaces) the server-delegated entropy routine.
func (a *Adapter) EnsureServerRoutine(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("server routine name: %w", apperrors.ErrConfigurationIncomplete)
	}
	ddl := ServerRoutineDDL(name)
	err := a.conn.Exclusive(ctx, func(datasource.PoolConnector) error {
		_, err := a.pool.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("install server routine %s: %w", name, err)
	}
	a.logger.Info("installed server routine", zap.String("name", name))
	return nil
}
