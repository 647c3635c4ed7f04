package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

type accountKey struct {
	owner int64
	kind  model.AccountKind
}

// reservationKeys возвращает счёт резерва читателя, если по назначению есть резерв.
func reservationKeys(a *model.Assignment) []accountKey {
	if a.ReservationTxID == nil {
		return nil
	}
	return []accountKey{{a.ReaderID, model.AccountReaderReserved}}
}

// lockAccounts блокирует существующие счета keys в порядке возрастания идентификаторов.
// Вызывается до первой проводки единицы работы, которая затрагивает несколько счетов:
// последующие блокировки тех же строк уже удерживаются. Счета, которых ещё нет,
// создаются проводкой и в порядке не участвуют.
func (e *Engine) lockAccounts(ctx context.Context, tx repository.Tx, keys ...accountKey) error {
	if len(keys) < 2 {
		return nil
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		acc, err := e.store.GetAccountByOwner(ctx, k.owner, k.kind)
		if errors.Is(err, apperr.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		ids = append(ids, acc.ID)
	}
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if _, err := tx.LockAccount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
