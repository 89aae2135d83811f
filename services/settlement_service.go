package services

import (
	"container/heap"
	"math"

	"travelflow-backend/models"
)

// CalculateBalances splits the total spend equally across users and returns
// each user's paid amount minus their share, rounded half up to whole
// currency units. Payers missing from users still count towards the total
// but are not credited to anyone.
func CalculateBalances(expenses []models.Expense, users []string) map[string]int64 {
	balances := make(map[string]int64, len(users))
	if len(users) == 0 {
		return balances
	}

	var total float64
	paid := make(map[string]float64, len(users))
	for _, u := range users {
		paid[u] = 0
	}
	for _, e := range expenses {
		total += e.Amount
		if _, ok := paid[e.Payer]; ok {
			paid[e.Payer] += e.Amount
		}
	}

	perPerson := total / float64(len(users))
	for _, u := range users {
		balances[u] = roundHalfUp(paid[u] - perPerson)
	}
	return balances
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

// OrderedBalances lists balances in traveler order. Repeated names appear once.
func OrderedBalances(users []string, balances map[string]int64) []models.Balance {
	out := make([]models.Balance, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, models.Balance{User: u, Amount: balances[u]})
	}
	return out
}

func TotalExpense(expenses []models.Expense) float64 {
	var total float64
	for _, e := range expenses {
		total += e.Amount
	}
	return total
}

type personBalance struct {
	user    string
	balance int64
}

type balanceHeap []personBalance

func (h balanceHeap) Len() int { return len(h) }
func (h balanceHeap) Less(i, j int) bool {
	if h[i].balance != h[j].balance {
		return h[i].balance > h[j].balance
	}
	return h[i].user < h[j].user
}
func (h balanceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *balanceHeap) Push(x interface{}) {
	*h = append(*h, x.(personBalance))
}
func (h *balanceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// SuggestTransfers pairs the largest debtor with the largest creditor until
// one side runs out. Rounding residue is left unsettled.
func SuggestTransfers(balances map[string]int64) []models.Transfer {
	creditorHeap := &balanceHeap{}
	debtorHeap := &balanceHeap{}

	for user, balance := range balances {
		if balance > 0 {
			heap.Push(creditorHeap, personBalance{user: user, balance: balance})
		} else if balance < 0 {
			heap.Push(debtorHeap, personBalance{user: user, balance: -balance})
		}
	}

	transfers := []models.Transfer{}
	for creditorHeap.Len() > 0 && debtorHeap.Len() > 0 {
		creditor := heap.Pop(creditorHeap).(personBalance)
		debtor := heap.Pop(debtorHeap).(personBalance)

		amount := creditor.balance
		if debtor.balance < amount {
			amount = debtor.balance
		}
		transfers = append(transfers, models.Transfer{
			From:   debtor.user,
			To:     creditor.user,
			Amount: amount,
		})

		creditor.balance -= amount
		debtor.balance -= amount
		if creditor.balance > 0 {
			heap.Push(creditorHeap, creditor)
		}
		if debtor.balance > 0 {
			heap.Push(debtorHeap, debtor)
		}
	}

	return transfers
}
