package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echochat/internal/repository"
)

var (
	_ repository.UserRepository          = (*UserStore)(nil)
	_ repository.FriendRepository        = (*FriendStore)(nil)
	_ repository.FriendRequestRepository = (*FriendRequestStore)(nil)
	_ repository.RoomRepository          = (*RoomStore)(nil)
	_ repository.MessageRepository       = (*MessageStore)(nil)
)

// NewStores builds every store on one shared pool.
func NewStores(pool *pgxpool.Pool) repository.Stores {
	return repository.Stores{
		Users:          NewUserStore(pool),
		Friends:        NewFriendStore(pool),
		FriendRequests: NewFriendRequestStore(pool),
		Rooms:          NewRoomStore(pool),
		Messages:       NewMessageStore(pool),
	}
}
