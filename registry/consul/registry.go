package consul

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/registry"
)

// agent is the part of the consul agent API the registry needs.
type agent interface {
	ServiceRegister(*consulapi.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
	UpdateTTL(checkID, output, status string) error
}

// ConsulRegistry announces one orchestrator instance and keeps its TTL check
// passing until Deregister.
type ConsulRegistry struct {
	agent        agent
	registration *consulapi.AgentServiceRegistration
	checkID      string
	interval     time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
	log  *slog.Logger
}

func NewConsulRegistry(config *conf.ConsulConfig, log *slog.Logger) (*ConsulRegistry, error) {
	reg, err := registration(config)
	if err != nil {
		return nil, err
	}
	cc := consulapi.DefaultConfig()
	cc.Address = config.Address
	client, err := consulapi.NewClient(cc)
	if err != nil {
		return nil, errors.Internal("unable to create consul client",
			errors.WithCause(err), errors.WithID("consul.registry.new.client"))
	}
	return newRegistry(client.Agent(), reg, log), nil
}

func newRegistry(a agent, reg *consulapi.AgentServiceRegistration, log *slog.Logger) *ConsulRegistry {
	return &ConsulRegistry{
		agent:        a,
		registration: reg,
		checkID:      reg.Check.CheckID,
		interval:     registry.CheckInterval / 2,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		log:          log,
	}
}

// registration builds the service entry from the public address. The check id
// is fixed so no lookup of agent checks is needed after registering.
func registration(config *conf.ConsulConfig) (*consulapi.AgentServiceRegistration, error) {
	if config.Id == "" {
		return nil, errors.Validation("service id is empty! (set it by '--id' flag)",
			errors.WithID("consul.registry.new.service_id"))
	}
	host, port, err := net.SplitHostPort(config.PublicAddress)
	if err != nil {
		return nil, errors.Validation("unable to parse address",
			errors.WithCause(err), errors.WithID("consul.registry.new.address"))
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, errors.Validation("unable to parse port",
			errors.WithCause(err), errors.WithID("consul.registry.new.port"))
	}
	return &consulapi.AgentServiceRegistration{
		ID:      config.Id,
		Name:    registry.ServiceName,
		Address: host,
		Port:    p,
		Tags:    []string{"grpc", "v" + model.CurrentVersion},
		Check: &consulapi.AgentServiceCheck{
			CheckID:                        "service:" + config.Id,
			TTL:                            registry.CheckInterval.String(),
			DeregisterCriticalServiceAfter: registry.DeregisterCriticalServiceAfter.String(),
		},
	}, nil
}

func (c *ConsulRegistry) Register() error {
	if err := c.agent.ServiceRegister(c.registration); err != nil {
		return errors.Internal("unable to register service",
			errors.WithCause(err), errors.WithID("consul.registry.register"))
	}
	if err := c.pass(); err != nil {
		return err
	}
	c.log.Info("report_orchestrator.consul.registered", slog.String("service_id", c.registration.ID))
	go c.checkIn()
	return nil
}

func (c *ConsulRegistry) Deregister() error {
	c.once.Do(func() { close(c.stop) })
	err := c.agent.ServiceDeregister(c.registration.ID)
	if err != nil {
		return errors.Internal("unable to deregister service",
			errors.WithCause(err), errors.WithID("consul.registry.deregister"))
	}
	c.log.Info("report_orchestrator.consul.deregistered", slog.String("service_id", c.registration.ID))
	return nil
}

func (c *ConsulRegistry) pass() error {
	if err := c.agent.UpdateTTL(c.checkID, "serving", consulapi.HealthPassing); err != nil {
		return errors.Internal("unable to update service check",
			errors.WithCause(err), errors.WithID("consul.registry.update_ttl"))
	}
	return nil
}

func (c *ConsulRegistry) checkIn() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			c.log.Info("report_orchestrator.consul.checker_stopped")
			return
		case <-ticker.C:
			if err := c.pass(); err != nil {
				c.log.Error("report_orchestrator.consul.check_in_failed", slog.String("error", err.Error()))
			}
		}
	}
}
