// Package deleter vends a long-running worker to delete image files of deleted photos.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/tourist/common/config"
	"wuyrush.io/tourist/common/logging"
	"wuyrush.io/tourist/common/setup"
	cst "wuyrush.io/tourist/constants"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
	st "wuyrush.io/tourist/stores"
)

func main() {
	if err := runDeleter(); err != nil {
		log.WithError(err).Fatal("error running deleter")
	}
}

type deleter struct {
	FS       st.FileStore
	JS       st.JunkStore
	wipCache gcache.Cache
	// how long a ref stays marked as work in progress
	wipExpiry time.Duration
}

func runDeleter() error {
	config.Load()
	logging.SetupLog("TouristDeleter")
	setup.LogBuildInfo("tourist deleter")
	// setup dependencies
	clog := logging.WithFuncName()
	if viper.GetString(cst.EnvStoreBackend) == cst.StoreBackendMemory {
		clog.Warn("memory store backend keeps junk within the writer process; nothing to delete here")
	}
	deps, err := setup.Stores(context.Background())
	if err != nil {
		clog.WithError(err).Error("error setting up stores")
		return err
	}
	defer deps.Close()
	localCacheSize := viper.GetInt(cst.EnvDeleterLocalCacheSize)
	d := &deleter{
		FS:        deps.FS,
		JS:        deps.JS,
		wipCache:  gcache.New(localCacheSize).LRU().Build(),
		wipExpiry: viper.GetDuration(cst.EnvDeleterWIPCacheEntryExpiry),
	}
	if err := d.Run(); err != nil {
		return err
	}
	return nil
}

func (d *deleter) Run() *pe.Err {
	clog := logging.WithFuncName()
	freq := viper.GetDuration(cst.EnvDeleterSweepFreq)
	if freq <= 0 {
		clog.WithField("sweepFrequency", freq).Fatal("got non-positive deleter sweep frequency")
	}
	execPoolSize := viper.GetInt(cst.EnvDeleterExecutorPoolSize)
	if execPoolSize <= 0 {
		clog.WithField("deleterExecutorPoolSize", execPoolSize).Fatal("got non-positive deleter executor pool size")
	}
	quotas := make(chan struct{}, execPoolSize)
	maxLoad := viper.GetInt(cst.EnvDeleterMaxSweepLoad)
	loadTkr := time.NewTicker(freq)
	defer loadTkr.Stop()
	var wg sync.WaitGroup
	defer wg.Wait()
	// ensure the worker can be responsive to system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	for {
		select {
		case <-loadTkr.C:
			if err := d.Sweep(maxLoad, quotas, &wg); err != nil {
				// TODO: back off instead of exiting once the junk store is reachable again after outages
				return err
			}
		case <-sigChan:
			clog.Info("got termination signal from kernel. Stopping")
			return nil
		}
	}
}

// Sweep loads up to max junk refs and dispatches them for disposal to workers holding one of quotas
func (d *deleter) Sweep(max int, quotas chan struct{}, wg *sync.WaitGroup) *pe.Err {
	clog := logging.WithFuncName()
	jks, err := d.Load(max)
	if err != nil {
		clog.WithError(err).Error("error loading junk")
		return err
	}
	clog.WithField("count", len(jks)).Debug("junk loaded")
	// dispatch junk to workers in pool for disposal
	for _, jk := range jks {
		wg.Add(1)
		go func(jk *md.Junk) {
			defer wg.Done()
			quotas <- struct{}{}
			defer func() { <-quotas }()
			if err := d.Delete(jk); err != nil {
				clog.WithError(err).WithField("ref", jk.Ref).Error("error deleting junk")
				return
			}
			clog.WithField("ref", jk.Ref).Debug("successfully deleted junk")
		}(jk)
	}
	return nil
}

// Load loads up to max junk refs from JunkStore for cleanup, skipping refs being deleted already. It loads
// all junk available in JunkStore if max == 0.
func (d *deleter) Load(max int) ([]*md.Junk, *pe.Err) {
	clog := logging.WithFuncName()
	jks, err := d.JS.Junk(max)
	if err != nil {
		clog.WithError(err).Error("error loading junk from JunkStore")
		return nil, err
	}
	// query local cache to filter out refs which are already WIP
	newJks := []*md.Junk{}
	for _, jk := range jks {
		if _, err := d.wipCache.Get(jk.Ref); err != nil {
			if err == gcache.KeyNotFoundError {
				newJks = append(newJks, jk)
			} else {
				msg := "error getting ref from local cache"
				clog.WithError(err).Error(msg)
				return nil, pe.NewServiceFailure(msg).WithCause(err)
			}
		}
	}
	// mark refs as WIP in best-effort manner - refs we failed to mark may be picked up again by the next
	// sweep, which is harmless since deletion is idempotent
	for _, jk := range newJks {
		if err := d.wipCache.SetWithExpire(jk.Ref, struct{}{}, d.wipExpiry); err != nil {
			clog.WithError(err).WithField("ref", jk.Ref).Error("error keying ref in local cache")
		}
	}
	return newJks, nil
}

// Delete removes the file of j from FileStore, then deregisters j from JunkStore
func (d *deleter) Delete(j *md.Junk) *pe.Err {
	clog := logging.WithFuncName().WithField("ref", j.Ref)
	// refs stay WIP until their entries expire if anything below fails, giving dependencies time to recover
	if err := d.FS.Delete(j.Ref); err != nil {
		clog.WithError(err).Error("error deleting file with FileStore")
		return err
	}
	if err := d.JS.Deregister(j.Ref); err != nil {
		clog.WithError(err).Error("error deregistering junk from JunkStore")
		return err
	}
	d.wipCache.Remove(j.Ref)
	return nil
}
