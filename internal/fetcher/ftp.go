package fetcher

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads files from the NCEI FTP archive. Used as a fallback
// when the HTTP access endpoint for GHCN-D station files is unavailable.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpConnReader wraps an FTP response and connection so that closing the
// reader also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return respErr
	}
	return quitErr
}

// Retrieve downloads path from the FTP server at addr (host or host:port)
// using anonymous login. The returned reader owns the connection.
func (f *FTPFetcher) Retrieve(ctx context.Context, addr, path string) (io.ReadCloser, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", addr)
	}

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: login %s", addr)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: retrieve %s", path)
	}

	zap.L().Debug("ftp retrieve started", zap.String("addr", addr), zap.String("path", path))
	return &ftpConnReader{resp: resp, conn: conn}, nil
}
