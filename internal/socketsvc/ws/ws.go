package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/cuehall/venue-services/internal/comm"
	"github.com/cuehall/venue-services/internal/socketsvc/broker"
)

// Ws keeps the live socket registry: socketId -> conn, socketId -> venue
// room, and userId -> socketId for user-addressed messages.
type Ws struct {
	connMap  sync.Map
	venueMap sync.Map
	userMap  sync.Map
	Broker   *broker.Broker
}

func NewWs() *Ws {
	return &Ws{}
}

// SocketMessage handles one message from a web client. init and
// join-venue maintain the local registry; everything else is relayed to
// the table service with the socket id attached.
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case "init":
		s.handleInit(socketId, message)
	case "join-venue":
		s.handleJoinVenue(socketId, message)
	default:
		message.SocketId = socketId
		s.relay(comm.TopicSocketService, message)
	}
}

func (s *Ws) handleInit(socketId string, msg *comm.WSMessage) {
	var payload struct {
		UserId int64  `json:"user_id"`
		Name   string `json:"name"`
	}

	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Error: invalid_init_data Malformed init payload %s", err)
		return
	}

	if payload.UserId == 0 {
		log.Error("Invalid init payload: missing required user fields")
		return
	}

	s.userMap.Store(payload.UserId, socketId)

	msg.SocketId = socketId
	s.relay(comm.TopicSocketService, msg)
}

func (s *Ws) handleJoinVenue(socketId string, msg *comm.WSMessage) {
	var payload struct {
		VenueId int64 `json:"venue_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Malformed join-venue payload %s", err)
		return
	}
	if payload.VenueId == 0 {
		log.Error("join-venue payload missing venue id")
		return
	}
	s.venueMap.Store(socketId, payload.VenueId)
}

func (s *Ws) relay(topic string, msg *comm.WSMessage) {
	bytes, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal WSMessage for NATS: %v", err)
		return
	}
	if err := s.Broker.Publish(topic, bytes); err != nil {
		log.Errorf("Failed to publish to NATS topic %s: %v", topic, err)
	}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, conn)
}

func (s *Ws) GetConnection(socketId string) (*websocket.Conn, bool) {
	conn, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return conn.(*websocket.Conn), true
}

// GetUserSocket resolves the socket a user registered with init.
func (s *Ws) GetUserSocket(userId int64) (string, bool) {
	sid, ok := s.userMap.Load(userId)
	if !ok {
		return "", false
	}
	return sid.(string), true
}

// GetVenueSockets returns all sockets that joined the venue room.
func (s *Ws) GetVenueSockets(venueId int64) ([]string, bool) {
	var sockets []string
	found := false

	s.venueMap.Range(func(key, value interface{}) bool {
		if value.(int64) == venueId {
			sockets = append(sockets, key.(string))
			found = true
		}
		return true // continue iterating
	})

	return sockets, found
}

// HandleDisconnect drops the socket from every registry.
func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
	s.venueMap.Delete(socketId)
	s.userMap.Range(func(key, value interface{}) bool {
		if value.(string) == socketId {
			s.userMap.Delete(key)
			return false
		}
		return true
	})
}
