package postgres

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// listQuery appends ListOpts filtering, ordering and paging to a SELECT
// whose WHERE clause already binds len(args) parameters.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) bind(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window filters timeCol by opts.Since / opts.Until.
func (q *listQuery) window(timeCol string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.sb.WriteString(" AND " + timeCol + " >= " + q.bind(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + timeCol + " <= " + q.bind(*opts.Until))
	}
	return q
}

func (q *listQuery) page(orderBy string, opts domain.ListOpts) *listQuery {
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.bind(opts.Offset))
	}
	return q
}

func (q *listQuery) String() string { return q.sb.String() }

// numeric encodes an integer amount for a NUMERIC(78,0) column. nil is
// stored as zero.
func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

// bigFromNumeric decodes an integral NUMERIC value.
func bigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.Int == nil {
		return new(big.Int), nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("postgres: non-finite numeric")
	}
	out := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		out.QuoRem(out, div, &rem)
		if rem.Sign() != 0 {
			return nil, fmt.Errorf("postgres: numeric %s has a fractional part", n.Int)
		}
	}
	return out, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timeFrom(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
