package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lk2023060901/csap/app/csapctl/internal/conf"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/lk2023060901/csap/pkg/logger"
)

// 确保 Client 实现了 csap.Handler 接口
var _ csap.Handler = (*Client)(nil)

// Client 命令行会话客户端
// 握手完成后发送一次配置中的内容，打印收到的每一部分，连接关闭或出错时结束
type Client struct {
	session *csap.Session
	target  conf.Target
	send    conf.Send
	out     io.Writer
	logger  logger.Logger

	mu      sync.Mutex
	replies int

	done chan error
	once sync.Once
}

// Option 客户端选项
type Option func(*Client)

// WithOutput 设置打印输出，默认 os.Stdout
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		if w != nil {
			c.out = w
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 创建客户端并接管会话的全部回调
func New(s *csap.Session, target conf.Target, send conf.Send, opts ...Option) *Client {
	c := &Client{
		session: s,
		target:  target,
		send:    send,
		out:     os.Stdout,
		logger:  logger.NewNoop(),
		done:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	s.SetHandler(c)
	return c
}

// Run 打开会话并等待结束，实现 app.Runner
func (c *Client) Run(ctx context.Context) error {
	if err := c.session.Open(ctx, c.target.OpenRequest()); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		_ = c.session.Close()
		return ctx.Err()
	case err := <-c.done:
		_ = c.session.Close()
		return err
	}
}

// Replies 已收到的完整 envelope 数量
func (c *Client) Replies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.done <- err
	})
}

func (c *Client) OnOpen(s *csap.Session, r csap.Result) {
	if !r.OK() {
		c.logger.Error("连接失败", "error", r.Err, "status", csap.StatusCode(r.Err))
		return
	}
	c.logger.Info("连接已建立", "service", s.Service())
}

func (c *Client) OnHandshake(s *csap.Session, r csap.Result) {
	if !r.OK() {
		c.finish(r.Err)
		return
	}

	hs := s.Handshake()
	fmt.Fprintf(c.out, "HANDSHAKE %s\n", hs.Raw)
	c.logger.Info("握手完成", "sid", hs.SessionID)

	if c.send.Empty() {
		return
	}
	if c.send.Data != "" {
		if err := s.PutString(c.send.Data); err != nil {
			c.finish(err)
			return
		}
	}
	var usrCtl []byte
	if c.send.UsrCtl != "" {
		usrCtl = []byte(c.send.UsrCtl)
	}
	if err := s.Send(context.Background(), usrCtl); err != nil {
		c.finish(err)
		return
	}
	c.logger.Info("已发送", "usrctl_size", len(usrCtl), "data_size", len(c.send.Data))
}

func (c *Client) OnData(s *csap.Session, r csap.Result) {
	complete := false
	switch r.Phase {
	case csap.PhaseCTL:
		ctl := s.LastControl()
		fmt.Fprintf(c.out, "CTL usrctl=%d data=%d fmt=%s\n", ctl.UsrCtlSize, ctl.DataSize, ctl.Format)
		complete = ctl.Next() == csap.StateCTL
	case csap.PhaseUSRCTL:
		fmt.Fprintf(c.out, "USRCTL %s\n", s.LastUserControl().Payload)
	case csap.PhaseDATA:
		fmt.Fprintf(c.out, "DATA %s\n", s.LastData().Payload)
		complete = true
	}
	if !complete {
		return
	}

	c.mu.Lock()
	c.replies++
	n := c.replies
	c.mu.Unlock()
	if c.send.Replies > 0 && n >= c.send.Replies {
		c.finish(nil)
	}
}

func (c *Client) OnClose(s *csap.Session, r csap.Result) {
	if r.OK() {
		c.logger.Info("连接已关闭")
	}
	c.finish(r.Err)
}

func (c *Client) OnError(s *csap.Session, r csap.Result) {
	c.finish(r.Err)
}
