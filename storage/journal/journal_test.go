package journal

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"multivault/core/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	j, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestJournalAppendAndFilter(t *testing.T) {
	j := openTestJournal(t)
	fixed := time.Unix(1_700_000_000, 0)
	j.SetClock(func() time.Time { return fixed })

	j.Emit(events.VaultDeposit{Caller: alice, Receiver: alice, Assets: big.NewInt(1000), Shares: big.NewInt(1000)})
	j.Emit(events.VaultDeposit{Caller: bob, Receiver: bob, Assets: big.NewInt(50), Shares: big.NewInt(50)})
	j.Emit(events.VaultWithdraw{
		Caller: alice, Receiver: bob, Owner: alice,
		Assets: big.NewInt(10), Shares: big.NewInt(10), Instant: big.NewInt(10), Queued: big.NewInt(0),
	})

	all, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Seq)
	require.Equal(t, events.TypeVaultDeposit, all[0].Type)
	require.Equal(t, "1000", all[0].Attributes["assets"])
	require.True(t, all[0].CreatedAt.Equal(fixed))
	require.NotEqual(t, all[0].ID, all[1].ID)

	deposits, err := j.List(context.Background(), Filter{Type: events.TypeVaultDeposit})
	require.NoError(t, err)
	require.Len(t, deposits, 2)

	forBob, err := j.List(context.Background(), Filter{Account: bob.Hex()})
	require.NoError(t, err)
	require.Len(t, forBob, 2)
	require.Equal(t, events.TypeVaultWithdraw, forBob[1].Type)

	after, err := j.List(context.Background(), Filter{AfterSeq: all[1].Seq})
	require.NoError(t, err)
	require.Len(t, after, 1)

	page, err := j.List(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)

	n, err := j.Count(context.Background(), events.TypeVaultDeposit)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestJournalSubscribe(t *testing.T) {
	j := openTestJournal(t)
	feed, cancel := j.Subscribe(4)

	_, err := j.Append(context.Background(), events.VaultPaused{Sender: alice, Paused: true})
	require.NoError(t, err)

	select {
	case entry := <-feed:
		require.Equal(t, events.TypeVaultPaused, entry.Type)
		require.Equal(t, "true", entry.Attributes["paused"])
	case <-time.After(time.Second):
		t.Fatal("expected entry on subscription")
	}

	cancel()
	_, open := <-feed
	require.False(t, open)
	cancel()
}

func TestJournalClosed(t *testing.T) {
	j := openTestJournal(t)
	feed, _ := j.Subscribe(1)
	require.NoError(t, j.Close())
	_, open := <-feed
	require.False(t, open)

	_, err := j.List(context.Background(), Filter{})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, j.Close())
}

func TestAccountsOfIsNormalised(t *testing.T) {
	got := accountsOf(map[string]string{
		"caller":   alice.Hex(),
		"receiver": alice.Hex(),
		"owner":    bob.Hex(),
		"assets":   "5",
	})
	require.Equal(t, "|"+lower(alice)+"|"+lower(bob)+"|", got)
	require.Empty(t, accountsOf(map[string]string{"assets": "5"}))
}

func lower(addr common.Address) string {
	return fmt.Sprintf("0x%x", addr.Bytes())
}
