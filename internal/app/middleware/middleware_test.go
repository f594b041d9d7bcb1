package middleware

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/app/commands"
	"chatgate/internal/app/envelope"
	"chatgate/internal/app/outbox"
	"chatgate/internal/app/queries"
	"chatgate/internal/domain/chat"
)

type renameCommand struct {
	ConversationID string `validate:"required"`
	Name           string `validate:"required,max=8"`
}

func (renameCommand) Key() string { return "test.rename" }

type lookupQuery struct {
	ID string `validate:"required"`
}

func (lookupQuery) Key() string { return "test.lookup" }

type countingOutbox struct {
	flushed  int
	flushErr error
}

func (o *countingOutbox) Add(context.Context, outbox.EventRecord) error { return nil }

func (o *countingOutbox) Flush(context.Context) error {
	o.flushed++
	return o.flushErr
}

func commandBus(t *testing.T, err error) *commands.InMemoryBus {
	t.Helper()
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, renameCommand{}.Key(), commands.HandlerFunc[renameCommand, string](
		func(_ context.Context, cmd renameCommand) (string, error) {
			return cmd.Name, err
		}))
	return bus
}

func TestStructValidator_MapsToValidationError(t *testing.T) {
	v := NewStructValidator()
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, renameCommand{ConversationID: "c1", Name: "team"}))
	require.NoError(t, v.Validate(ctx, "plain string"))

	err := v.Validate(ctx, renameCommand{Name: "far too long"})
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Contains(t, err.Error(), `renameCommand.ConversationID failed "required"`)
	assert.Contains(t, err.Error(), `renameCommand.Name failed "max"`)
	assert.Equal(t, http.StatusBadRequest, envelope.CodeFor(err))

	err = v.Validate(ctx, nil)
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestValidation_StopsBeforeHandler(t *testing.T) {
	v := NewStructValidator()
	bus := ChainCommands(commandBus(t, nil), Validation(v))

	_, err := commands.Dispatch[renameCommand, string](context.Background(), bus, renameCommand{Name: "x"})
	assert.ErrorIs(t, err, chat.ErrValidation)

	name, err := commands.Dispatch[renameCommand, string](context.Background(), bus, renameCommand{ConversationID: "c1", Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", name)
}

func TestQueryValidation(t *testing.T) {
	base := queries.NewInMemoryBus()
	queries.RegisterHandler(base, lookupQuery{}.Key(), queries.HandlerFunc[lookupQuery, string](
		func(_ context.Context, q lookupQuery) (string, error) { return "found " + q.ID, nil }))
	bus := ChainQueries(base, QueryValidation(NewStructValidator()))

	_, err := queries.Ask[lookupQuery, string](context.Background(), bus, lookupQuery{})
	assert.ErrorIs(t, err, chat.ErrValidation)

	res, err := queries.Ask[lookupQuery, string](context.Background(), bus, lookupQuery{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "found c1", res)
}

func TestOutboxFlush(t *testing.T) {
	ctx := context.Background()
	ok := renameCommand{ConversationID: "c1", Name: "x"}

	box := &countingOutbox{}
	_, err := ChainCommands(commandBus(t, nil), OutboxFlush(box)).Dispatch(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, box.flushed)

	box = &countingOutbox{}
	_, err = ChainCommands(commandBus(t, chat.ErrNotFound), OutboxFlush(box)).Dispatch(ctx, ok)
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.Zero(t, box.flushed, "failed commands are not flushed")

	broker := errors.New("broker down")
	box = &countingOutbox{flushErr: broker}
	res, err := ChainCommands(commandBus(t, nil), OutboxFlush(box)).Dispatch(ctx, ok)
	assert.ErrorIs(t, err, broker)
	assert.ErrorContains(t, err, "test.rename")
	assert.Nil(t, res)

	assert.Panics(t, func() { OutboxFlush(nil) })
}

func TestChainCommands_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	tag := func(name string) CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
				order = append(order, name+">")
				res, err := next.Dispatch(ctx, cmd)
				order = append(order, "<"+name)
				return res, err
			})
		}
	}
	bus := ChainCommands(commandBus(t, nil), tag("a"), tag("b"), tag("c"))
	_, err := bus.Dispatch(context.Background(), renameCommand{ConversationID: "c1", Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a>", "b>", "c>", "<c", "<b", "<a"}, order)

	base := commandBus(t, nil)
	assert.Same(t, base, ChainCommands(base))
}

func TestChainQueries_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	tag := func(name string) QueryMiddleware {
		return func(next queries.Bus) queries.Bus {
			return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
				order = append(order, name)
				return next.Ask(ctx, q)
			})
		}
	}
	base := queries.NewInMemoryBus()
	queries.RegisterHandler(base, lookupQuery{}.Key(), queries.HandlerFunc[lookupQuery, string](
		func(context.Context, lookupQuery) (string, error) { return "", nil }))
	_, err := ChainQueries(base, tag("outer"), tag("inner")).Ask(context.Background(), lookupQuery{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}
