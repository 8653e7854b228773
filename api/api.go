package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/gobwas/ws"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"syncwatch.app/broadcast"
	"syncwatch.app/config"
	"syncwatch.app/dispatcher"
	"syncwatch.app/pkg/cors"
	"syncwatch.app/pkg/utils"
	"syncwatch.app/pkg/websocket"
	"syncwatch.app/registry"
	"syncwatch.app/session"
	"syncwatch.app/storage"
)

const maxURLLength = 2048

type API struct {
	echo       *echo.Echo
	config     *config.Config
	storage    storage.Storage
	rooms      *registry.Registry
	dispatcher *dispatcher.Dispatcher
	workerPool *workerpool.WorkerPool

	poolMu      sync.RWMutex
	poolStopped bool

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	stop      chan struct{}
	closeOnce sync.Once
}

type (
	roomRequest struct {
		RoomID string `json:"roomId"`
		URL    string `json:"url"`
	}

	roomResponse struct {
		RoomID string `json:"roomId"`
		URL    string `json:"url"`
	}

	statsResponse struct {
		Rooms        int   `json:"rooms"`
		Participants int   `json:"participants"`
		Visits       int64 `json:"visits"`
		RoomsCreated int64 `json:"roomsCreated"`
	}
)

func New(c *config.Config, s storage.Storage, rooms *registry.Registry) *API {
	api := &API{
		echo:       echo.New(),
		config:     c,
		storage:    s,
		rooms:      rooms,
		workerPool: workerpool.New(c.MaxWorkers),
		conns:      make(map[*websocket.Conn]struct{}),
		stop:       make(chan struct{}),
	}
	api.dispatcher = dispatcher.New(rooms, broadcast.New(rooms),
		dispatcher.OnRoomCreated(api.recordRoomCreated))

	api.echo.HideBanner = true
	api.echo.HidePort = true
	api.echo.Use(cors.Middleware(c.CORSOrigin))

	api.echo.GET("/", api.ping)
	api.echo.GET("/stats", api.stats)
	api.echo.POST("/room", api.createRoom)
	api.echo.POST("/create-room", api.createRoom)
	api.echo.GET("/room/:roomID", api.getRoom)
	api.echo.POST("/join-room", api.joinRoom)
	api.echo.Any("/ws", api.websocket)

	return api
}

func (api *API) Start() error {
	go api.reap()
	log.Infof("listening on :%d", api.config.HttpPort)
	return api.echo.Start(":" + strconv.Itoa(api.config.HttpPort))
}

// Close stops accepting requests, drops live websocket sessions and waits
// for pending stats writes.
func (api *API) Close(ctx context.Context) error {
	var err error
	api.closeOnce.Do(func() {
		close(api.stop)
		err = api.echo.Shutdown(ctx)

		api.mu.Lock()
		for conn := range api.conns {
			_ = conn.Close()
		}
		api.mu.Unlock()

		api.poolMu.Lock()
		api.poolStopped = true
		api.poolMu.Unlock()
		api.workerPool.StopWait()
	})
	return err
}

func (api *API) reap() {
	if api.config.ReapInterval <= 0 {
		return
	}
	ticker := time.NewTicker(api.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-api.stop:
			return
		case <-ticker.C:
			api.rooms.ReapEmpty(api.config.EmptyRoomTTL)
		}
	}
}

// submit runs fn on the worker pool unless the API is shutting down.
func (api *API) submit(fn func()) {
	api.poolMu.RLock()
	defer api.poolMu.RUnlock()
	if api.poolStopped {
		return
	}
	api.workerPool.Submit(fn)
}

func (api *API) recordRoomCreated(roomID string) {
	api.submit(func() {
		if _, err := api.storage.IncrRoomsCreated(); err != nil {
			log.Errorf("count room %s: %v", roomID, err)
		}
	})
}

// Ping handler
func (api *API) ping(c echo.Context) error {
	api.submit(func() {
		if _, err := api.storage.IncrVisits(); err != nil {
			log.Error(err)
		}
	})
	return c.String(http.StatusOK, "OK")
}

func (api *API) stats(c echo.Context) error {
	var res statsResponse
	res.Rooms, res.Participants = api.rooms.Stats()

	var err error
	if res.Visits, err = api.storage.GetVisitsByDate(time.Now()); err != nil {
		log.Error(err)
	}
	if res.RoomsCreated, err = api.storage.RoomsCreated(); err != nil {
		log.Error(err)
	}
	return c.JSON(http.StatusOK, &res)
}

// Room creation endpoint. The body may carry an initial video url.
func (api *API) createRoom(c echo.Context) error {
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		log.Warn(err)
		return echo.NewHTTPError(http.StatusUnprocessableEntity)
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL != "" && !utils.IsLengthValid(req.URL, 1, maxURLLength) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "url too long")
	}

	roomID := api.rooms.CreateRoom()
	if req.URL != "" {
		if err := api.rooms.SetVideoSource(roomID, req.URL); err != nil {
			log.Error(err)
			return echo.NewHTTPError(http.StatusConflict)
		}
	}
	api.recordRoomCreated(roomID)

	return c.JSON(http.StatusOK, &roomResponse{RoomID: roomID, URL: req.URL})
}

// Returns room data by roomID
func (api *API) getRoom(c echo.Context) error {
	return api.roomByID(c, c.Param("roomID"))
}

func (api *API) joinRoom(c echo.Context) error {
	var req roomRequest
	if err := c.Bind(&req); err != nil || req.RoomID == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity)
	}
	return api.roomByID(c, req.RoomID)
}

func (api *API) roomByID(c echo.Context, roomID string) error {
	room, err := api.rooms.GetRoom(roomID)
	if err != nil {
		log.Info(err)
		return echo.NewHTTPError(http.StatusNotFound, registry.ErrRoomNotFound.Error())
	}
	return c.JSON(http.StatusOK, &roomResponse{RoomID: room.ID, URL: room.VideoURL})
}

// Endpoint to establish websocket connection
func (api *API) websocket(c echo.Context) error {
	conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		log.Warn(err)
		return nil
	}
	api.serveUser(conn)
	return nil
}

// Serves one websocket connection until it closes
func (api *API) serveUser(conn net.Conn) {
	wc := websocket.NewConn(conn, websocket.Options{
		PingInterval:   api.config.PingInterval,
		SendQueueSize:  api.config.SendQueueSize,
		MaxMessageSize: api.config.MaxMessageSize,
	})
	s := session.New(wc)

	api.mu.Lock()
	api.conns[wc] = struct{}{}
	api.mu.Unlock()

	api.dispatcher.Connect(s)
	log.Infof("session %s connected from %s", s.ID, conn.RemoteAddr())

	err := wc.Serve(func(msg []byte) {
		api.dispatcher.Handle(s, msg)
	})

	api.dispatcher.Disconnect(s)
	api.mu.Lock()
	delete(api.conns, wc)
	api.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, websocket.ErrClosed) {
		log.Infof("session %s disconnected: %v", s.ID, err)
		return
	}
	log.Infof("session %s disconnected", s.ID)
}
