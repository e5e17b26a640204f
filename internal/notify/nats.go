package notify

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"auction-ledger/internal/models"
)

// Subject naming: auction.events.{kind}.{auctionID} allows consumers to
// subscribe per auction or per kind.
const (
	subjectBid    = "auction.events.bid.%d"
	subjectStatus = "auction.events.status.%d"
)

// NATSSink publishes events to NATS core subjects. Publish errors are logged
// and dropped, matching the fire-and-forget delivery contract.
type NATSSink struct {
	conn *nats.Conn
}

func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

func (s *NATSSink) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshal event for %s: %v", subject, err)
		return
	}
	if err := s.conn.Publish(subject, data); err != nil {
		log.Printf("notify: publish %s: %v", subject, err)
	}
}

func (s *NATSSink) BidderUpdated(e models.BidderUpdated) {
	s.publish(fmt.Sprintf(subjectBid, e.AuctionID), e)
}

func (s *NATSSink) AuctionStatusChanged(e models.AuctionStatusChanged) {
	s.publish(fmt.Sprintf(subjectStatus, e.AuctionID), e)
}
