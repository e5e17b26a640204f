package registry

import "fmt"

// Key layout in the key-value store.
const (
	// auction:next_id -> next AuctionId to allocate (decimal string)
	keyNextID = "auction:next_id"

	// auction:{id} -> JSON auction record
	keyAuction = "auction:%d"

	// auction:item:{item} -> AuctionId the item is currently bound to
	keyItemIndex = "auction:item:%s"

	// auction:index:pending -> sorted JSON list of PendingStart AuctionIds
	keyPendingIndex = "auction:index:pending"

	// auction:index:live -> sorted JSON list of Active-or-Paused AuctionIds
	keyLiveIndex = "auction:index:live"
)

func auctionKey(id uint64) string {
	return fmt.Sprintf(keyAuction, id)
}

func itemIndexKey(item string) string {
	return fmt.Sprintf(keyItemIndex, item)
}
