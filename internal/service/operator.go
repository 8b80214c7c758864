package service

import (
	"sort"
)

// Operator is proof that a caller passed an OperatorSet check. The zero value
// carries no rights.
type Operator struct {
	id         int64
	authorized bool
}

func (o Operator) ID() int64 { return o.id }

// OperatorSet is the explicit list of operator ids, built from config and
// handed to whoever needs to authorize privileged calls.
type OperatorSet struct {
	ids map[int64]struct{}
}

func NewOperatorSet(ids ...int64) OperatorSet {
	set := OperatorSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

func (s OperatorSet) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

func (s OperatorSet) Authorize(id int64) (Operator, error) {
	if !s.Contains(id) {
		return Operator{}, ErrForbidden
	}
	return Operator{id: id, authorized: true}, nil
}

func (s OperatorSet) IDs() []int64 {
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func requireOperator(op Operator) error {
	if !op.authorized {
		return ErrForbidden
	}
	return nil
}
