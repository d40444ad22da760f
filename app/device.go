package app

import (
	"github.com/bonnefoa/pgcachectl/client"
	"github.com/bonnefoa/pgcachectl/config"
	"github.com/bonnefoa/pgcachectl/device"
	"github.com/bonnefoa/pgcachectl/fdtable"
	"github.com/bonnefoa/pgcachectl/memcache"
	"github.com/bonnefoa/pgcachectl/metrics"
	"github.com/bonnefoa/pgcachectl/transfer"
	"github.com/bonnefoa/pgcachectl/usermem"
)

// connect opens the configured control channel. With the local device the
// in-process cache is returned too.
func (s *session) connect() (*client.Conn, *memcache.Cache, error) {
	if s.cfg.Device != config.LocalDevice {
		conn, err := client.Open(s.cfg.Device)
		return conn, nil, err
	}

	pageSize := int(s.cfg.PageSize)
	cache := memcache.New(memcache.Config{PageSize: pageSize, MaxPages: s.cfg.Cache.MaxPages})
	engine, err := transfer.New(cache, transfer.Config{PageSize: pageSize, Metrics: metrics.New(s.registerer())})
	if err != nil {
		return nil, nil, err
	}
	dev := device.New(engine, usermem.NewSelf(), fdtable.Host{})
	return client.NewConn(dev), cache, nil
}
