//go:build windows

// Command rdpipe-reg manages the Windows registry entries that make an RDS
// or Citrix client load the plugin: the COM class registration for the
// plugin DLL, the Terminal Server Client AddIns entry, and the Citrix ICA
// client DVC adapter module list.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	winregistry "golang.org/x/sys/windows/registry"
)

const (
	pluginName  = "RdPipe"
	pluginCLSID = "{D1F74DC7-9FDE-45BE-9251-FA72D4064DA3}"

	comClsFolder       = `SOFTWARE\Classes\CLSID`
	inprocServerFolder = "InprocServer32"

	tsAddInsFolder = `Software\Microsoft\Terminal Server Client\Default\AddIns`

	ctxModulesFolder   = `SOFTWARE\Citrix\ICA Client\Engine\Configuration\Advanced\Modules`
	ctxDvcPluginsValue = "DvcPlugins"
)

func rootKey(scope string) (winregistry.Key, error) {
	switch scope {
	case "user":
		return winregistry.CURRENT_USER, nil
	case "machine":
		return winregistry.LOCAL_MACHINE, nil
	}
	return 0, fmt.Errorf("unknown scope %q (want user or machine)", scope)
}

// registerCOM creates the InprocServer32 entry pointing at dllPath. Paths
// containing an environment reference are stored expandable so per-user
// installs under %AppData% resolve at load time.
func registerCOM(root winregistry.Key, dllPath string) error {
	clsKey, _, err := winregistry.CreateKey(root, comClsFolder+`\`+pluginCLSID, winregistry.WRITE)
	if err != nil {
		return err
	}
	defer clsKey.Close()
	if err := clsKey.SetStringValue("", pluginName); err != nil {
		return err
	}
	srvKey, _, err := winregistry.CreateKey(clsKey, inprocServerFolder, winregistry.WRITE)
	if err != nil {
		return err
	}
	defer srvKey.Close()
	if strings.Contains(strings.ToLower(dllPath), "appdata%") {
		err = srvKey.SetExpandStringValue("", dllPath)
	} else {
		err = srvKey.SetStringValue("", dllPath)
	}
	if err != nil {
		return err
	}
	return srvKey.SetStringValue("ThreadingModel", "Free")
}

func unregisterCOM(root winregistry.Key) error {
	path := comClsFolder + `\` + pluginCLSID
	if err := winregistry.DeleteKey(root, path+`\`+inprocServerFolder); err != nil && err != winregistry.ErrNotExist {
		return err
	}
	if err := winregistry.DeleteKey(root, path); err != nil && err != winregistry.ErrNotExist {
		return err
	}
	return nil
}

// registerRDP adds the Terminal Server Client AddIns entry so mstsc loads
// the plugin for new sessions.
func registerRDP(root winregistry.Key) error {
	key, _, err := winregistry.CreateKey(root, tsAddInsFolder+`\`+pluginName, winregistry.WRITE)
	if err != nil {
		return err
	}
	defer key.Close()
	if err := key.SetStringValue("Name", pluginCLSID); err != nil {
		return err
	}
	return key.SetDWordValue("View Enabled", 1)
}

func unregisterRDP(root winregistry.Key) error {
	err := winregistry.DeleteKey(root, tsAddInsFolder+`\`+pluginName)
	if err != nil && err != winregistry.ErrNotExist {
		return err
	}
	return nil
}

// registerCitrix creates the DVCPlugin module entry and appends the plugin
// to the DVC adapter's comma-separated plugin list if not already present.
func registerCitrix(root winregistry.Key) error {
	modKey, _, err := winregistry.CreateKey(root, ctxModulesFolder, winregistry.READ|winregistry.WRITE)
	if err != nil {
		return err
	}
	defer modKey.Close()
	pluginKey, _, err := winregistry.CreateKey(modKey, "DVCPlugin_"+pluginName, winregistry.WRITE)
	if err != nil {
		return err
	}
	defer pluginKey.Close()
	if err := pluginKey.SetStringValue("DvcNames", pluginName); err != nil {
		return err
	}
	if err := pluginKey.SetStringValue("PluginClassId", pluginCLSID); err != nil {
		return err
	}
	adapterKey, err := winregistry.OpenKey(modKey, "DVCAdapter", winregistry.READ|winregistry.WRITE)
	if err != nil {
		return err
	}
	defer adapterKey.Close()
	plugins, _, err := adapterKey.GetStringValue(ctxDvcPluginsValue)
	if err != nil {
		return err
	}
	list := strings.Split(plugins, ",")
	for _, p := range list {
		if p == pluginName {
			return nil
		}
	}
	list = append(list, pluginName)
	return adapterKey.SetStringValue(ctxDvcPluginsValue, strings.Join(list, ","))
}

func unregisterCitrix(root winregistry.Key) error {
	modKey, err := winregistry.OpenKey(root, ctxModulesFolder, winregistry.READ|winregistry.WRITE)
	if err != nil {
		if err == winregistry.ErrNotExist {
			return nil
		}
		return err
	}
	defer modKey.Close()
	adapterKey, err := winregistry.OpenKey(modKey, "DVCAdapter", winregistry.READ|winregistry.WRITE)
	if err == nil {
		defer adapterKey.Close()
		if plugins, _, gerr := adapterKey.GetStringValue(ctxDvcPluginsValue); gerr == nil {
			var kept []string
			for _, p := range strings.Split(plugins, ",") {
				if p != pluginName {
					kept = append(kept, p)
				}
			}
			if err := adapterKey.SetStringValue(ctxDvcPluginsValue, strings.Join(kept, ",")); err != nil {
				return err
			}
		}
	}
	err = winregistry.DeleteKey(modKey, "DVCPlugin_"+pluginName)
	if err != nil && err != winregistry.ErrNotExist {
		return err
	}
	return nil
}

func main() {
	com := flag.Bool("com", false, "register the COM class for the plugin DLL")
	dll := flag.String("dll", "", "plugin DLL path for -com (may reference %AppData%)")
	rdp := flag.Bool("rdp", false, "register with the Microsoft Terminal Server client")
	citrix := flag.Bool("citrix", false, "register with the Citrix ICA client")
	unregister := flag.Bool("unregister", false, "remove the selected registrations instead")
	scope := flag.String("scope", "user", "registry scope: user or machine")
	flag.Parse()

	root, err := rootKey(*scope)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !*com && !*rdp && !*citrix {
		fmt.Fprintln(os.Stderr, "nothing to do: pass at least one of -com, -rdp, -citrix")
		os.Exit(2)
	}
	if *com && !*unregister && *dll == "" {
		fmt.Fprintln(os.Stderr, "-com requires -dll")
		os.Exit(2)
	}

	fail := func(what string, err error) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
	if *com {
		if *unregister {
			if err := unregisterCOM(root); err != nil {
				fail("unregister COM class", err)
			}
		} else if err := registerCOM(root, *dll); err != nil {
			fail("register COM class", err)
		}
	}
	if *rdp {
		if *unregister {
			if err := unregisterRDP(root); err != nil {
				fail("unregister RDP add-in", err)
			}
		} else if err := registerRDP(root); err != nil {
			fail("register RDP add-in", err)
		}
	}
	if *citrix {
		if *unregister {
			if err := unregisterCitrix(root); err != nil {
				fail("unregister Citrix module", err)
			}
		} else if err := registerCitrix(root); err != nil {
			fail("register Citrix module", err)
		}
	}
}
